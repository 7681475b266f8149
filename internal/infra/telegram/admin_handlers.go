package telegram

import (
	"context"
	"strings"

	"session_broadcaster_bot/internal/app"
	"session_broadcaster_bot/internal/domain/dispatch"

	"github.com/sirupsen/logrus"
	"gopkg.in/telebot.v3"
)

// CommandObserver is notified of every guarded command.
type CommandObserver interface {
	ObserveCommand(command string, authorized bool)
}

// AdminOnly rejects every sender but the administrator with UnauthorizedReply.
// The wrapped handler is not called for rejected senders.
func AdminOnly(adminService *app.AdminService, observer CommandObserver, baseLogger *logrus.Entry) telebot.MiddlewareFunc {
	return func(next telebot.HandlerFunc) telebot.HandlerFunc {
		return func(c telebot.Context) error {
			command := commandName(c)
			senderID := senderID(c)
			authorized := adminService.Authorize(senderID) == nil
			if observer != nil {
				observer.ObserveCommand(command, authorized)
			}
			if !authorized {
				baseLogger.WithFields(logrus.Fields{
					"handler":   command,
					"sender_id": senderID,
				}).Warn("Unauthorized access attempt")
				return c.Send(UnauthorizedReply)
			}
			return next(c)
		}
	}
}

// AdminHandlers implements the administrator commands.
type AdminHandlers struct {
	ctx          context.Context
	adminService *app.AdminService
	baseLogger   *logrus.Entry
}

func NewAdminHandlers(ctx context.Context, adminService *app.AdminService, baseLogger *logrus.Entry) *AdminHandlers {
	return &AdminHandlers{ctx: ctx, adminService: adminService, baseLogger: baseLogger}
}

// RegisterAdminHandlers registers every admin command behind AdminOnly.
func RegisterAdminHandlers(ctx context.Context, b *telebot.Bot, adminService *app.AdminService, observer CommandObserver, baseLogger *logrus.Entry) {
	h := NewAdminHandlers(ctx, adminService, baseLogger)

	admin := b.Group()
	admin.Use(AdminOnly(adminService, observer, baseLogger))

	admin.Handle("/group", h.Group)
	admin.Handle("/user", h.User)
	admin.Handle("/join", h.Join)
	admin.Handle("/leave", h.Leave)
	admin.Handle("/status", h.Status)
	admin.Handle("/add_session", h.AddSession)
	admin.Handle("/list_sessions", h.ListSessions)
}

func (h *AdminHandlers) Group(c telebot.Context) error {
	return h.broadcast(c, "/group", dispatch.KindGroupBroadcast, usageGroup, progressGroup)
}

func (h *AdminHandlers) User(c telebot.Context) error {
	return h.broadcast(c, "/user", dispatch.KindUserBroadcast, usageUser, progressUser)
}

func (h *AdminHandlers) broadcast(c telebot.Context, command string, kind dispatch.Kind, usage, progress string) error {
	handlerLogger := h.logger(c, command)
	handlerLogger.Info("Command received")

	message := payload(c)
	if strings.TrimSpace(message) == "" {
		return c.Send(usage)
	}
	if err := c.Send(progress); err != nil {
		handlerLogger.WithError(err).Warn("Failed to send progress reply")
	}

	var (
		res app.Result
		err error
	)
	if kind == dispatch.KindUserBroadcast {
		res, err = h.adminService.BroadcastUsers(h.ctx, message)
	} else {
		res, err = h.adminService.BroadcastGroups(h.ctx, message)
	}
	if err != nil {
		handlerLogger.WithError(err).Error("Broadcast aborted")
		return reply(c, formatRunError(err, res))
	}
	handlerLogger.WithField("run_id", res.RunID).Info("Broadcast completed")
	return reply(c, formatBroadcastResult(kind, res))
}

func (h *AdminHandlers) Join(c telebot.Context) error {
	handlerLogger := h.logger(c, "/join")
	handlerLogger.Info("Command received")

	link, ok := firstArg(c)
	if !ok {
		return c.Send(usageJoin)
	}
	handlerLogger = handlerLogger.WithField("link", link)
	if err := c.Send(progressJoin(link)); err != nil {
		handlerLogger.WithError(err).Warn("Failed to send progress reply")
	}

	res, err := h.adminService.Join(h.ctx, link)
	if err != nil {
		handlerLogger.WithError(err).Error("Join aborted")
		return reply(c, formatRunError(err, res))
	}
	return reply(c, formatJoinResult(link, res))
}

func (h *AdminHandlers) Leave(c telebot.Context) error {
	handlerLogger := h.logger(c, "/leave")
	handlerLogger.Info("Command received")

	link, ok := firstArg(c)
	if !ok {
		return c.Send(usageLeave)
	}
	handlerLogger = handlerLogger.WithField("link", link)
	if err := c.Send(progressLeave(link)); err != nil {
		handlerLogger.WithError(err).Warn("Failed to send progress reply")
	}

	res, err := h.adminService.Leave(h.ctx, link)
	if err != nil {
		handlerLogger.WithError(err).Error("Leave aborted")
		return reply(c, formatRunError(err, res))
	}
	return reply(c, formatLeaveResult(res))
}

func (h *AdminHandlers) Status(c telebot.Context) error {
	h.logger(c, "/status").Info("Command received")
	return reply(c, formatStatus(h.adminService.Status(h.ctx)))
}

func (h *AdminHandlers) AddSession(c telebot.Context) error {
	handlerLogger := h.logger(c, "/add_session")
	handlerLogger.Info("Command received")

	secret := strings.TrimSpace(payload(c))
	if secret == "" {
		return c.Send(usageAddSession)
	}
	if err := c.Send(progressAddSession); err != nil {
		handlerLogger.WithError(err).Warn("Failed to send progress reply")
	}

	idx, id, err := h.adminService.AddSession(h.ctx, secret)
	if err != nil {
		handlerLogger.WithError(err).Warn("Failed to add session")
		return reply(c, formatAddError(err))
	}
	handlerLogger.WithFields(logrus.Fields{
		"session_idx": idx,
		"account_id":  id.ID,
	}).Info("Session added successfully")
	return reply(c, formatAddSuccess(id))
}

func (h *AdminHandlers) ListSessions(c telebot.Context) error {
	handlerLogger := h.logger(c, "/list_sessions")
	handlerLogger.Info("Command received")

	listing, err := h.adminService.ListSessions(h.ctx)
	if err != nil {
		handlerLogger.WithError(err).Error("Failed to count saved sessions")
	}
	return reply(c, formatSessionList(listing, err))
}

func (h *AdminHandlers) logger(c telebot.Context, command string) *logrus.Entry {
	return h.baseLogger.WithFields(logrus.Fields{
		"handler":   command,
		"sender_id": senderID(c),
	})
}

// reply sends text, split to fit the message size limit.
func reply(c telebot.Context, text string) error {
	for _, chunk := range splitMessage(text, maxMessageLen) {
		if err := c.Send(chunk); err != nil {
			return err
		}
	}
	return nil
}

// payload is the raw text after the command, with inner spacing preserved.
func payload(c telebot.Context) string {
	if m := c.Message(); m != nil {
		return m.Payload
	}
	return ""
}

func firstArg(c telebot.Context) (string, bool) {
	fields := strings.Fields(payload(c))
	if len(fields) == 0 {
		return "", false
	}
	return fields[0], true
}

func senderID(c telebot.Context) int64 {
	if u := c.Sender(); u != nil {
		return u.ID
	}
	return 0
}

// commandName returns the leading /command of the message, without a
// @botname suffix.
func commandName(c telebot.Context) string {
	fields := strings.Fields(c.Text())
	if len(fields) == 0 || !strings.HasPrefix(fields[0], "/") {
		return "unknown"
	}
	name, _, _ := strings.Cut(fields[0], "@")
	return name
}
