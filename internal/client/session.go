package client

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/khaledrefaat/TaskSimple/internal/errs"
	"github.com/khaledrefaat/TaskSimple/internal/reconcile"
)

// SessionFileName is stored next to the local database.
const SessionFileName = "session.json"

// StoredSession is the signed-in user saved between runs.
type StoredSession struct {
	UserID     string    `json:"userId"`
	Email      string    `json:"email"`
	Token      string    `json:"token"`
	Server     string    `json:"server"`
	SignedInAt time.Time `json:"signedInAt"`
}

// Session returns the reconciler view of s.
func (s *StoredSession) Session() reconcile.Session {
	return reconcile.Session{UserID: s.UserID, Token: s.Token}
}

// LoadSession reads the session saved in dir. A missing or unreadable
// session returns errs.ErrAuth.
func LoadSession(dir string) (*StoredSession, error) {
	data, err := os.ReadFile(filepath.Join(dir, SessionFileName))
	if errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("not signed in: %w", errs.ErrAuth)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read session: %w", err)
	}

	var s StoredSession
	if err := json.Unmarshal(data, &s); err != nil || s.Token == "" || s.UserID == "" {
		return nil, fmt.Errorf("session file is invalid: %w", errs.ErrAuth)
	}
	return &s, nil
}

// SaveSession writes s to dir with owner-only permissions.
func SaveSession(dir string, s *StoredSession) error {
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("failed to create %s: %w", dir, err)
	}
	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode session: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".session-*")
	if err != nil {
		return fmt.Errorf("failed to write session: %w", err)
	}
	defer os.Remove(tmp.Name())

	if err := tmp.Chmod(0o600); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write session: %w", err)
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write session: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to write session: %w", err)
	}
	if err := os.Rename(tmp.Name(), filepath.Join(dir, SessionFileName)); err != nil {
		return fmt.Errorf("failed to write session: %w", err)
	}
	return nil
}

// UpdateToken replaces the saved token, keeping the rest of the session.
func UpdateToken(dir, token string) error {
	s, err := LoadSession(dir)
	if err != nil {
		return err
	}
	s.Token = token
	return SaveSession(dir, s)
}

// ClearSession removes the saved session. A missing file is not an error.
func ClearSession(dir string) error {
	err := os.Remove(filepath.Join(dir, SessionFileName))
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("failed to remove session: %w", err)
	}
	return nil
}
