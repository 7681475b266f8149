package mtproto

import (
	domain "session_broadcaster_bot/internal/domain/telegram"

	"github.com/gotd/td/tg"
)

// channelMarkOffset is the Bot API offset for channel and supergroup ids.
const channelMarkOffset = 1_000_000_000_000

// entityLookup resolves dialog entities. peer.Entities implements it.
type entityLookup interface {
	User(id int64) (*tg.User, bool)
	Chat(id int64) (*tg.Chat, bool)
	Channel(id int64) (*tg.Channel, bool)
}

func markChat(id int64) int64    { return -id }
func markChannel(id int64) int64 { return -(channelMarkOffset + id) }

// classify maps a dialog peer to a Dialog. Peers that cannot be addressed
// by a marked id (self, empty) and the account's own "Saved Messages" dialog
// are reported as not ok.
func classify(p tg.InputPeerClass, ents entityLookup) (domain.Dialog, bool) {
	switch p := p.(type) {
	case *tg.InputPeerUser:
		d := domain.Dialog{ID: p.UserID, Kind: domain.ChatPrivate}
		if u, ok := ents.User(p.UserID); ok {
			if u.Self {
				return domain.Dialog{}, false
			}
			d.Title = u.FirstName
		}
		return d, true
	case *tg.InputPeerChat:
		d := domain.Dialog{ID: markChat(p.ChatID), Kind: domain.ChatGroup}
		if c, ok := ents.Chat(p.ChatID); ok {
			d.Title = c.Title
		}
		return d, true
	case *tg.InputPeerChannel:
		d := domain.Dialog{ID: markChannel(p.ChannelID), Kind: domain.ChatChannel}
		if c, ok := ents.Channel(p.ChannelID); ok {
			d.Title = c.Title
			if c.Megagroup || c.Gigagroup {
				d.Kind = domain.ChatSupergroup
			}
		}
		return d, true
	}
	return domain.Dialog{}, false
}
