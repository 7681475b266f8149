package telegram

import (
	"errors"
	"fmt"
	"strings"
	"testing"
	"unicode/utf8"

	"session_broadcaster_bot/internal/app"
	"session_broadcaster_bot/internal/domain/credential"
	"session_broadcaster_bot/internal/domain/dispatch"
)

func TestSplitMessage(t *testing.T) {
	if got := splitMessage("short", 10); len(got) != 1 || got[0] != "short" {
		t.Fatalf("unexpected split %q", got)
	}

	text := "aaaa\nbbbb\ncccc"
	got := splitMessage(text, 9)
	if strings.Join(got, "|") != "aaaa|bbbb\ncccc" {
		t.Fatalf("unexpected line split %q", got)
	}

	long := strings.Repeat("é", 10) // 20 bytes
	for _, chunk := range splitMessage(long, 5) {
		if len(chunk) > 5 {
			t.Fatalf("chunk exceeds limit: %q", chunk)
		}
		if !utf8.ValidString(chunk) {
			t.Fatalf("chunk split a rune: %q", chunk)
		}
	}
	if strings.Join(splitMessage(long, 5), "") != long {
		t.Fatal("splitting must not lose bytes")
	}
}

func TestFormatRunError(t *testing.T) {
	res := app.Result{Succeeded: 3, Sessions: 2}

	got := formatRunError(fmt.Errorf("%w: disk full", dispatch.ErrPersistence), res)
	if !strings.Contains(got, "action log write failed") || !strings.Contains(got, "Sent: 3") {
		t.Fatalf("unexpected persistence report %q", got)
	}
	if got := formatRunError(errors.New("context canceled"), res); !strings.Contains(got, "interrupted") {
		t.Fatalf("unexpected cancellation report %q", got)
	}
}

func TestFormatAddError(t *testing.T) {
	tests := []struct {
		err  error
		want string
	}{
		{app.ErrSessionExists, "already connected"},
		{fmt.Errorf("persist: %w", credential.ErrPersistence), "could not be saved"},
		{fmt.Errorf("%w: bad key", app.ErrAuthentication), "Error adding session"},
	}
	for _, tt := range tests {
		if got := formatAddError(tt.err); !strings.Contains(got, tt.want) {
			t.Fatalf("formatAddError(%v) = %q, want %q", tt.err, got, tt.want)
		}
	}
}

func TestFormatSessionListEmptyAndUnknownCount(t *testing.T) {
	got := formatSessionList(app.SessionListing{}, errors.New("redis down"))
	if got != "🔎 Connected: 0 | Saved: ?\n\nNo active sessions." {
		t.Fatalf("unexpected listing %q", got)
	}
}

func TestFormatLeaveResult(t *testing.T) {
	got := formatLeaveResult(app.Result{Succeeded: 2, Failed: 1, RateLimited: 1})
	if got != "✅ Left 2 sessions successfully.\n❌ Failed: 1\n⏳ Rate-limited: 1" {
		t.Fatalf("unexpected leave reply %q", got)
	}
}
