package telegram

import (
	"github.com/sirupsen/logrus"
	"gopkg.in/telebot.v3"
)

// BotCommands is the command menu published to Telegram.
func BotCommands() []telebot.Command {
	return []telebot.Command{
		{Text: "start", Description: "Show the command list"},
		{Text: "group", Description: "Send a message to all groups"},
		{Text: "user", Description: "Send a message to all personal chats"},
		{Text: "join", Description: "Join a link with all accounts"},
		{Text: "leave", Description: "Leave a link with all accounts"},
		{Text: "status", Description: "Check active sessions"},
		{Text: "add_session", Description: "Add a new session string"},
		{Text: "list_sessions", Description: "List all connected accounts"},
	}
}

// RegisterBotCommands registers the unguarded commands.
func RegisterBotCommands(b *telebot.Bot, baseLogger *logrus.Entry) {
	b.Handle("/start", StartHandler(baseLogger))
	b.Handle("/help", StartHandler(baseLogger))
}

// StartHandler replies with the command list to anyone.
func StartHandler(baseLogger *logrus.Entry) telebot.HandlerFunc {
	startHelpLogger := baseLogger.WithField("handler_group", "start_help")
	return func(c telebot.Context) error {
		startHelpLogger.WithFields(logrus.Fields{
			"command":   commandName(c),
			"sender_id": senderID(c),
		}).Info("Processing command")
		return c.Send(startText())
	}
}
