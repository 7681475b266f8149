package telegram

import (
	"session_broadcaster_bot/internal/app"

	"gopkg.in/telebot.v3"
)

// Sender is the part of *telebot.Bot used for unsolicited messages.
type Sender interface {
	Send(to telebot.Recipient, what interface{}, opts ...interface{}) (*telebot.Message, error)
}

// AdminNotifier sends unsolicited reports to the administrator.
type AdminNotifier struct {
	bot     Sender
	adminID int64
}

func NewAdminNotifier(b Sender, adminID int64) *AdminNotifier {
	return &AdminNotifier{bot: b, adminID: adminID}
}

// NotifyStartup reports how many sessions started and which credentials failed.
func (n *AdminNotifier) NotifyStartup(started int, failures []app.StartFailure) error {
	recipient := &telebot.User{ID: n.adminID} // the admin's private chat
	for _, chunk := range splitMessage(formatStartupReport(started, failures), maxMessageLen) {
		if _, err := n.bot.Send(recipient, chunk); err != nil {
			return err
		}
	}
	return nil
}
