package mtproto

import (
	"crypto/sha1"
	"encoding/base64"
	"fmt"
	"net"
	"strconv"
	"strings"

	"github.com/gotd/td/session"
	"github.com/gotd/td/telegram/dcs"
)

// Pyrogram string session layouts, by decoded length.
const (
	pyrogramLen       = 1 + 4 + 1 + 256 + 8 + 1 // dc, api id, test, key, user id, bot
	pyrogramOld32Len  = 1 + 1 + 256 + 4 + 1
	pyrogramOld64Len  = 1 + 1 + 256 + 8 + 1
	authKeyLen        = 256
	telethonVersionID = '1'
)

// DecodeSessionString converts a Telethon or Pyrogram string session into
// gotd session data.
func DecodeSessionString(secret string) (*session.Data, error) {
	secret = strings.TrimSpace(secret)
	if secret == "" {
		return nil, fmt.Errorf("empty session string")
	}
	if secret[0] == telethonVersionID {
		data, err := session.TelethonSession(secret)
		if err == nil {
			return data, nil
		}
	}
	return pyrogramSession(secret)
}

func pyrogramSession(secret string) (*session.Data, error) {
	raw, err := base64.RawURLEncoding.DecodeString(strings.TrimRight(secret, "="))
	if err != nil {
		return nil, fmt.Errorf("decode session string: %w", err)
	}

	var (
		dc  int
		key []byte
	)
	switch len(raw) {
	case pyrogramLen:
		dc = int(raw[0])
		key = raw[6 : 6+authKeyLen]
	case pyrogramOld32Len, pyrogramOld64Len:
		dc = int(raw[0])
		key = raw[2 : 2+authKeyLen]
	default:
		return nil, fmt.Errorf("unrecognized session string (%d bytes)", len(raw))
	}

	addr, err := dcAddr(dc)
	if err != nil {
		return nil, err
	}
	sum := sha1.Sum(key)
	return &session.Data{
		DC:        dc,
		Addr:      addr,
		AuthKey:   append([]byte(nil), key...),
		AuthKeyID: append([]byte(nil), sum[12:20]...),
	}, nil
}

// dcAddr returns the production IPv4 address of data center id.
func dcAddr(id int) (string, error) {
	for _, o := range dcs.Prod().Options {
		if o.ID != id || o.Ipv6 || o.MediaOnly || o.CDN {
			continue
		}
		return net.JoinHostPort(o.IPAddress, strconv.Itoa(o.Port)), nil
	}
	return "", fmt.Errorf("unknown data center %d", id)
}
