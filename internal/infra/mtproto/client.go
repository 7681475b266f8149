// Package mtproto implements the account capabilities on top of gotd.
package mtproto

import (
	"context"
	"errors"
	"fmt"
	"sync"

	domain "session_broadcaster_bot/internal/domain/telegram"

	"github.com/gotd/td/session"
	"github.com/gotd/td/telegram"
	"github.com/gotd/td/telegram/message"
	"github.com/gotd/td/telegram/peers"
	"github.com/gotd/td/telegram/query"
	"github.com/gotd/td/tg"
	"github.com/gotd/td/tgerr"
	"github.com/sirupsen/logrus"
)

const dialogBatchSize = 100

var ErrNotAuthorized = errors.New("session is not authorized")

// Authenticator starts one gotd client per credential string.
type Authenticator struct {
	apiID   int
	apiHash string
	logger  *logrus.Entry
}

func NewAuthenticator(apiID int, apiHash string, logger *logrus.Entry) *Authenticator {
	return &Authenticator{apiID: apiID, apiHash: apiHash, logger: logger.WithField("component", "mtproto")}
}

// Authenticate connects with secret and returns once the session is known
// to be authorized. The connection stays up until Close.
func (a *Authenticator) Authenticate(ctx context.Context, secret string) (domain.Account, error) {
	data, err := DecodeSessionString(secret)
	if err != nil {
		return nil, err
	}
	storage := &session.StorageMemory{}
	loader := session.Loader{Storage: storage}
	if err := loader.Save(ctx, data); err != nil {
		return nil, fmt.Errorf("failed to load session: %w", err)
	}

	client := telegram.NewClient(a.apiID, a.apiHash, telegram.Options{
		SessionStorage: storage,
		NoUpdates:      true,
	})
	api := client.API()

	runCtx, cancel := context.WithCancel(context.Background())
	acc := &account{
		client: client,
		api:    api,
		peers:  peers.Options{}.Build(api),
		sender: message.NewSender(api),
		inputs: make(map[int64]tg.InputPeerClass),
		cancel: cancel,
		done:   make(chan struct{}),
	}

	ready := make(chan error, 1)
	var once sync.Once
	signal := func(err error) { once.Do(func() { ready <- err }) }

	go func() {
		defer close(acc.done)
		err := client.Run(runCtx, func(ctx context.Context) error {
			status, err := client.Auth().Status(ctx)
			if err != nil {
				err = fmt.Errorf("auth status: %w", err)
				signal(err)
				return err
			}
			if !status.Authorized {
				signal(ErrNotAuthorized)
				return ErrNotAuthorized
			}
			signal(nil)
			<-ctx.Done()
			return nil
		})
		if err != nil && !errors.Is(err, context.Canceled) {
			signal(err)
			a.logger.WithError(err).Warn("Client connection closed")
		}
	}()

	select {
	case err := <-ready:
		if err != nil {
			acc.Close()
			return nil, err
		}
		return acc, nil
	case <-ctx.Done():
		acc.Close()
		return nil, ctx.Err()
	}
}

type account struct {
	client *telegram.Client
	api    *tg.Client
	peers  *peers.Manager
	sender *message.Sender

	mu     sync.Mutex
	inputs map[int64]tg.InputPeerClass // marked id -> peer, filled by Dialogs

	cancel context.CancelFunc
	done   chan struct{}
}

func (a *account) Self(ctx context.Context) (domain.Identity, error) {
	u, err := a.client.Self(ctx)
	if err != nil {
		return domain.Identity{}, convertError(err)
	}
	return domain.Identity{ID: u.ID, FirstName: u.FirstName, Username: u.Username}, nil
}

func (a *account) Dialogs(ctx context.Context, fn func(domain.Dialog) error) error {
	iter := query.GetDialogs(a.api).BatchSize(dialogBatchSize).Iter()
	for iter.Next(ctx) {
		elem := iter.Value()
		d, ok := classify(elem.Peer, &elem.Entities)
		if !ok {
			continue
		}
		a.mu.Lock()
		a.inputs[d.ID] = elem.Peer
		a.mu.Unlock()

		if err := fn(d); err != nil {
			return err
		}
	}
	return convertError(iter.Err())
}

func (a *account) SendMessage(ctx context.Context, chatID int64, text string) error {
	a.mu.Lock()
	input, ok := a.inputs[chatID]
	a.mu.Unlock()
	if !ok {
		return fmt.Errorf("chat %d is not among the account dialogs", chatID)
	}
	_, err := a.sender.To(input).Text(ctx, text)
	return convertError(err)
}

func (a *account) JoinLink(ctx context.Context, raw string) error {
	link, err := ParseLink(raw)
	if err != nil {
		return err
	}
	if link.InviteHash != "" {
		_, err := a.api.MessagesImportChatInvite(ctx, link.InviteHash)
		if tgerr.Is(err, "USER_ALREADY_PARTICIPANT") {
			return nil
		}
		return convertError(err)
	}

	channel, err := a.resolveChannel(ctx, link.Username)
	if err != nil {
		return err
	}
	_, err = a.api.ChannelsJoinChannel(ctx, channel)
	return convertError(err)
}

func (a *account) LeaveLink(ctx context.Context, raw string) error {
	link, err := ParseLink(raw)
	if err != nil {
		return err
	}
	if link.InviteHash != "" {
		invite, err := a.api.MessagesCheckChatInvite(ctx, link.InviteHash)
		if err != nil {
			return convertError(err)
		}
		already, ok := invite.(*tg.ChatInviteAlready)
		if !ok {
			return fmt.Errorf("account is not a member of %s", raw)
		}
		return a.leaveChat(ctx, already.Chat)
	}

	channel, err := a.resolveChannel(ctx, link.Username)
	if err != nil {
		return err
	}
	_, err = a.api.ChannelsLeaveChannel(ctx, channel)
	return convertError(err)
}

func (a *account) leaveChat(ctx context.Context, chat tg.ChatClass) error {
	var err error
	switch c := chat.(type) {
	case *tg.Chat:
		_, err = a.api.MessagesDeleteChatUser(ctx, &tg.MessagesDeleteChatUserRequest{
			ChatID: c.ID,
			UserID: &tg.InputUserSelf{},
		})
	case *tg.Channel:
		_, err = a.api.ChannelsLeaveChannel(ctx, &tg.InputChannel{ChannelID: c.ID, AccessHash: c.AccessHash})
	default:
		return fmt.Errorf("cannot leave chat of type %T", chat)
	}
	return convertError(err)
}

func (a *account) resolveChannel(ctx context.Context, username string) (*tg.InputChannel, error) {
	p, err := a.peers.ResolveDomain(ctx, username)
	if err != nil {
		return nil, convertError(err)
	}
	ch, ok := p.InputPeer().(*tg.InputPeerChannel)
	if !ok {
		return nil, fmt.Errorf("@%s is not a group or channel", username)
	}
	return &tg.InputChannel{ChannelID: ch.ChannelID, AccessHash: ch.AccessHash}, nil
}

// Close stops the connection and waits for it to shut down.
func (a *account) Close() error {
	a.cancel()
	<-a.done
	return nil
}

// convertError turns gotd flood waits into domain.FloodWaitError.
func convertError(err error) error {
	if err == nil {
		return nil
	}
	if d, ok := tgerr.AsFloodWait(err); ok {
		return fmt.Errorf("%w: %v", &domain.FloodWaitError{Wait: d}, err)
	}
	return err
}
