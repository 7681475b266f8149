// Package filestore is the dependency-free persistence backend: a JSON file
// of credential strings and a JSON-lines action journal.
package filestore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"session_broadcaster_bot/internal/domain/credential"
)

type stringsDocument struct {
	Strings []string `json:"strings"`
}

// CredentialFile keeps every credential in a single {"strings": [...]}
// document. All entries are active; order is the file order.
type CredentialFile struct {
	path string
	mu   sync.Mutex
}

func NewCredentialFile(path string) *CredentialFile {
	return &CredentialFile{path: path}
}

func (f *CredentialFile) ListActive(ctx context.Context) ([]*credential.Credential, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	secrets, err := f.readLocked()
	if err != nil {
		return nil, err
	}
	creds := make([]*credential.Credential, 0, len(secrets))
	for i, s := range secrets {
		creds = append(creds, &credential.Credential{
			ID:       int64(i + 1),
			Secret:   s,
			Active:   true,
			Position: i,
		})
	}
	return creds, nil
}

// Append adds secret to the end of the document unless it is already there.
// The document is replaced atomically and synced before returning.
func (f *CredentialFile) Append(ctx context.Context, secret string) (*credential.Credential, error) {
	secret = strings.TrimSpace(secret)
	if secret == "" {
		return nil, fmt.Errorf("%w: empty session string", credential.ErrPersistence)
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	secrets, err := f.readLocked()
	if err != nil {
		return nil, fmt.Errorf("%w: %w", credential.ErrPersistence, err)
	}
	for i, s := range secrets {
		if s == secret {
			return &credential.Credential{ID: int64(i + 1), Secret: s, Active: true, Position: i}, nil
		}
	}

	secrets = append(secrets, secret)
	if err := f.writeLocked(secrets); err != nil {
		return nil, fmt.Errorf("%w: %w", credential.ErrPersistence, err)
	}
	pos := len(secrets) - 1
	return &credential.Credential{ID: int64(pos + 1), Secret: secret, Active: true, Position: pos}, nil
}

func (f *CredentialFile) CountActive(ctx context.Context) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	secrets, err := f.readLocked()
	if err != nil {
		return 0, err
	}
	return len(secrets), nil
}

// readLocked returns the stored strings. A missing file is an empty store.
func (f *CredentialFile) readLocked() ([]string, error) {
	data, err := os.ReadFile(f.path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", f.path, err)
	}
	var doc stringsDocument
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", f.path, err)
	}
	out := doc.Strings[:0]
	for _, s := range doc.Strings {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out, nil
}

func (f *CredentialFile) writeLocked(secrets []string) error {
	dir := filepath.Dir(f.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}

	data, err := json.MarshalIndent(stringsDocument{Strings: secrets}, "", "  ")
	if err != nil {
		return err
	}

	tmp, err := os.CreateTemp(dir, filepath.Base(f.path)+".*.tmp")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name()) // no-op after a successful rename

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Chmod(tmp.Name(), 0o600); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), f.path)
}
