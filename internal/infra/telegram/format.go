package telegram

import (
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"

	"session_broadcaster_bot/internal/app"
	"session_broadcaster_bot/internal/domain/credential"
	"session_broadcaster_bot/internal/domain/dispatch"
	domain "session_broadcaster_bot/internal/domain/telegram"
)

// maxMessageLen is the Bot API text limit.
const maxMessageLen = 4096

const (
	UnauthorizedReply = "🚫 Unauthorized."

	usageGroup      = "⚠️ Usage: /group <message>"
	usageUser       = "⚠️ Usage: /user <message>"
	usageJoin       = "⚠️ Usage: /join <link>"
	usageLeave      = "⚠️ Usage: /leave <group_link>"
	usageAddSession = "⚠️ Usage: /add_session <string_session>"

	progressGroup      = "🚀 Sending to all groups..."
	progressUser       = "💬 Sending to all users..."
	progressAddSession = "🔐 Adding session... please wait."

	noUsername = "no_username"
)

func startText() string {
	var b strings.Builder
	b.WriteString("🌸 Welcome to Multi Session Bot 🌸\n\n")
	b.WriteString("Use the following commands:\n")
	b.WriteString("• /group <msg> - send to all groups\n")
	b.WriteString("• /user <msg> - send to all personal chats\n")
	b.WriteString("• /join <link> - join link with all accounts\n")
	b.WriteString("• /leave <link> - leave link with all accounts\n")
	b.WriteString("• /status - check active sessions\n")
	b.WriteString("• /add_session <string> - add new session\n")
	b.WriteString("• /list_sessions - list all connected IDs")
	return b.String()
}

func progressJoin(link string) string  { return fmt.Sprintf("🔗 Joining %s ...", link) }
func progressLeave(link string) string { return fmt.Sprintf("🚪 Leaving %s from all sessions...", link) }

func displayUsername(id domain.Identity) string {
	if id.Username == "" {
		return noUsername
	}
	return id.Username
}

func countsLine(res app.Result) string {
	line := fmt.Sprintf("📊 Sent: %d | Failed: %d | Rate-limited: %d", res.Succeeded, res.Failed, res.RateLimited)
	if res.Skipped > 0 {
		line += fmt.Sprintf(" | Already sent: %d", res.Skipped)
	}
	return line + fmt.Sprintf("\n👥 Sessions: %d", res.Sessions)
}

func formatBroadcastResult(kind dispatch.Kind, res app.Result) string {
	head := "✅ Message sent to all groups."
	if kind == dispatch.KindUserBroadcast {
		head = "✅ Message sent to all users."
	}
	return head + "\n" + countsLine(res)
}

func formatJoinResult(link string, res app.Result) string {
	if res.AlreadyProcessed {
		return fmt.Sprintf("ℹ️ %s was already processed. No join attempted.", link)
	}
	return fmt.Sprintf("✅ Join finished.\nJoined: %d | Failed: %d | Rate-limited: %d",
		res.Succeeded, res.Failed, res.RateLimited)
}

func formatLeaveResult(res app.Result) string {
	text := fmt.Sprintf("✅ Left %d sessions successfully.\n❌ Failed: %d", res.Succeeded, res.Failed)
	if res.RateLimited > 0 {
		text += fmt.Sprintf("\n⏳ Rate-limited: %d", res.RateLimited)
	}
	return text
}

// formatRunError reports an aborted fan-out together with its partial counts.
func formatRunError(err error, res app.Result) string {
	reason := "interrupted"
	if errors.Is(err, dispatch.ErrPersistence) {
		reason = "action log write failed"
	}
	return fmt.Sprintf("❌ Aborted: %s.\n%v\n%s", reason, err, countsLine(res))
}

func formatStatus(lines []app.StatusLine) string {
	var b strings.Builder
	fmt.Fprintf(&b, "📊 Total Sessions: %d\n\n", len(lines))
	for _, l := range lines {
		if l.Err != nil {
			fmt.Fprintf(&b, "%d. ❌ Error fetching\n", l.Index+1)
			continue
		}
		fmt.Fprintf(&b, "%d. %s (@%s)\n", l.Index+1, l.Identity.FirstName, displayUsername(l.Identity))
	}
	return strings.TrimRight(b.String(), "\n")
}

func formatSessionList(listing app.SessionListing, countErr error) string {
	saved := fmt.Sprint(listing.Saved)
	if countErr != nil {
		saved = "?"
	}
	header := fmt.Sprintf("🔎 Connected: %d | Saved: %s\n\n", len(listing.Lines), saved)
	if len(listing.Lines) == 0 {
		return header + "No active sessions."
	}

	rows := make([]string, 0, len(listing.Lines))
	for _, l := range listing.Lines {
		if l.Err != nil {
			rows = append(rows, fmt.Sprintf("%d. ❌ Failed to fetch info", l.Index+1))
			continue
		}
		rows = append(rows, fmt.Sprintf("%d. %s (@%s) — %d",
			l.Index+1, l.Identity.FirstName, displayUsername(l.Identity), l.Identity.ID))
	}
	return header + strings.Join(rows, "\n")
}

func formatAddSuccess(id domain.Identity) string {
	return fmt.Sprintf("✅ Added new session:\n• %s (@%s)", id.FirstName, displayUsername(id))
}

func formatAddError(err error) string {
	switch {
	case errors.Is(err, app.ErrSessionExists):
		return "⚠️ This session is already connected."
	case errors.Is(err, credential.ErrPersistence):
		return fmt.Sprintf("❌ Session authenticated but could not be saved:\n%v", err)
	default:
		return fmt.Sprintf("❌ Error adding session:\n%v", err)
	}
}

func formatStartupReport(started int, failures []app.StartFailure) string {
	var b strings.Builder
	fmt.Fprintf(&b, "🤖 Bot is running. Started %d session(s).", started)
	for _, f := range failures {
		fmt.Fprintf(&b, "\n❌ Session %d failed: %v", f.Position+1, f.Err)
	}
	return b.String()
}

// splitMessage cuts text into chunks of at most limit bytes, breaking on
// line boundaries where possible.
func splitMessage(text string, limit int) []string {
	if len(text) <= limit {
		return []string{text}
	}
	var chunks []string
	var cur strings.Builder
	for _, line := range strings.SplitAfter(text, "\n") {
		for len(line) > limit {
			if cur.Len() > 0 {
				chunks = append(chunks, strings.TrimRight(cur.String(), "\n"))
				cur.Reset()
			}
			cut := limit
			for cut > 0 && !utf8.RuneStart(line[cut]) {
				cut--
			}
			chunks = append(chunks, line[:cut])
			line = line[cut:]
		}
		if cur.Len()+len(line) > limit {
			chunks = append(chunks, strings.TrimRight(cur.String(), "\n"))
			cur.Reset()
		}
		cur.WriteString(line)
	}
	if cur.Len() > 0 {
		chunks = append(chunks, strings.TrimRight(cur.String(), "\n"))
	}
	return chunks
}
