package mtproto

import (
	"fmt"
	"net/url"
	"regexp"
	"strings"
)

// Link is a parsed Telegram chat link: either a private invite or a
// public username.
type Link struct {
	InviteHash string
	Username   string
}

var usernameRe = regexp.MustCompile(`^[A-Za-z][A-Za-z0-9_]{3,31}$`)

// ParseLink accepts t.me/+hash, t.me/joinchat/hash, t.me/name, @name and a
// bare name, with or without scheme. telegram.me and telegram.dog are
// accepted as hosts.
func ParseLink(raw string) (Link, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return Link{}, fmt.Errorf("empty link")
	}
	if strings.HasPrefix(s, "@") {
		return usernameLink(s[1:], raw)
	}

	if strings.HasPrefix(s, "tg://") {
		u, err := url.Parse(s)
		if err != nil {
			return Link{}, fmt.Errorf("invalid link %q: %w", raw, err)
		}
		switch u.Host {
		case "join":
			if h := u.Query().Get("invite"); h != "" {
				return Link{InviteHash: h}, nil
			}
		case "resolve":
			return usernameLink(u.Query().Get("domain"), raw)
		}
		return Link{}, fmt.Errorf("unsupported link %q", raw)
	}

	if !strings.Contains(s, "/") {
		return usernameLink(s, raw)
	}
	if !strings.Contains(s, "://") {
		s = "https://" + s
	}
	u, err := url.Parse(s)
	if err != nil {
		return Link{}, fmt.Errorf("invalid link %q: %w", raw, err)
	}
	switch strings.ToLower(strings.TrimPrefix(u.Host, "www.")) {
	case "t.me", "telegram.me", "telegram.dog":
	default:
		return Link{}, fmt.Errorf("not a telegram link: %q", raw)
	}

	parts := strings.Split(strings.Trim(u.Path, "/"), "/")
	switch {
	case len(parts) >= 2 && parts[0] == "joinchat" && parts[1] != "":
		return Link{InviteHash: parts[1]}, nil
	case strings.HasPrefix(parts[0], "+") && len(parts[0]) > 1:
		return Link{InviteHash: parts[0][1:]}, nil
	default:
		return usernameLink(parts[0], raw)
	}
}

func usernameLink(name, raw string) (Link, error) {
	if !usernameRe.MatchString(name) {
		return Link{}, fmt.Errorf("invalid username in link %q", raw)
	}
	return Link{Username: name}, nil
}
