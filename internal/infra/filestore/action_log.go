package filestore

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"session_broadcaster_bot/internal/domain/dispatch"
)

const (
	opDispatch = "dispatch"
	opJoin     = "join"
)

type journalRecord struct {
	Op           string        `json:"op"`
	SessionIndex int           `json:"session_idx,omitempty"`
	ChatID       int64         `json:"chat_id,omitempty"`
	Kind         dispatch.Kind `json:"type,omitempty"`
	Link         string        `json:"link,omitempty"`
	At           time.Time     `json:"at"`
}

type dispatchKey struct {
	sessionIndex int
	chatID       int64
}

// ActionJournal is an append-only JSON Lines action log. The journal is
// replayed into memory on open; every write is synced before returning.
type ActionJournal struct {
	mu         sync.Mutex
	file       *os.File
	dispatched map[dispatchKey]struct{}
	joined     map[string]struct{}
}

// OpenActionJournal replays path (if it exists) and opens it for appending.
// Lines that fail to decode are skipped.
func OpenActionJournal(path string) (*ActionJournal, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create journal directory: %w", err)
	}

	j := &ActionJournal{
		dispatched: map[dispatchKey]struct{}{},
		joined:     map[string]struct{}{},
	}
	if err := j.replay(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("failed to replay action journal: %w", err)
	}

	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_RDWR, 0o600)
	if err != nil {
		return nil, fmt.Errorf("failed to open action journal: %w", err)
	}
	if err := terminateTornLine(f); err != nil {
		f.Close()
		return nil, fmt.Errorf("failed to repair action journal: %w", err)
	}
	j.file = f
	return j, nil
}

// terminateTornLine ends a partially written last line so the next record
// starts on a line of its own. The torn bytes stay and are skipped on replay.
func terminateTornLine(f *os.File) error {
	info, err := f.Stat()
	if err != nil {
		return err
	}
	if info.Size() == 0 {
		return nil
	}
	last := make([]byte, 1)
	if _, err := f.ReadAt(last, info.Size()-1); err != nil {
		return err
	}
	if last[0] == '\n' {
		return nil
	}
	if _, err := f.Write([]byte{'\n'}); err != nil {
		return err
	}
	return f.Sync()
}

func (j *ActionJournal) replay(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	s := bufio.NewScanner(f)
	s.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for s.Scan() {
		var r journalRecord
		if err := json.Unmarshal(s.Bytes(), &r); err != nil {
			continue
		}
		j.apply(r)
	}
	return s.Err()
}

func (j *ActionJournal) apply(r journalRecord) {
	switch r.Op {
	case opDispatch:
		j.dispatched[dispatchKey{r.SessionIndex, r.ChatID}] = struct{}{}
	case opJoin:
		if r.Link != "" {
			j.joined[r.Link] = struct{}{}
		}
	}
}

func (j *ActionJournal) WasDispatched(ctx context.Context, sessionIndex int, chatID int64) (bool, error) {
	j.mu.Lock()
	defer j.mu.Unlock()
	_, ok := j.dispatched[dispatchKey{sessionIndex, chatID}]
	return ok, nil
}

func (j *ActionJournal) RecordDispatched(ctx context.Context, sessionIndex int, chatID int64, kind dispatch.Kind) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if _, ok := j.dispatched[dispatchKey{sessionIndex, chatID}]; ok {
		return nil
	}
	return j.appendLocked(journalRecord{Op: opDispatch, SessionIndex: sessionIndex, ChatID: chatID, Kind: kind})
}

func (j *ActionJournal) WasJoined(ctx context.Context, link string) (bool, error) {
	j.mu.Lock()
	defer j.mu.Unlock()
	_, ok := j.joined[link]
	return ok, nil
}

func (j *ActionJournal) RecordJoined(ctx context.Context, link string) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if _, ok := j.joined[link]; ok {
		return nil
	}
	return j.appendLocked(journalRecord{Op: opJoin, Link: link})
}

// appendLocked writes r, syncs, and only then applies it in memory.
func (j *ActionJournal) appendLocked(r journalRecord) error {
	if j.file == nil {
		return fmt.Errorf("%w: action journal closed", dispatch.ErrPersistence)
	}
	r.At = time.Now().UTC()
	line, err := json.Marshal(r)
	if err != nil {
		return fmt.Errorf("%w: %w", dispatch.ErrPersistence, err)
	}
	if _, err := j.file.Write(append(line, '\n')); err != nil {
		return fmt.Errorf("%w: failed to append action record: %w", dispatch.ErrPersistence, err)
	}
	if err := j.file.Sync(); err != nil {
		return fmt.Errorf("%w: failed to sync action journal: %w", dispatch.ErrPersistence, err)
	}
	j.apply(r)
	return nil
}

func (j *ActionJournal) Close() error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.file == nil {
		return nil
	}
	err := j.file.Close()
	j.file = nil
	return err
}
