// Package identity gives each device a stable user id to join rooms with.
package identity

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// Authenticator establishes who this device is
type Authenticator interface {
	SignIn(ctx context.Context) (string, error)
}

// FileAuthenticator persists a random user id in a file so a device keeps the
// same identity across restarts.
type FileAuthenticator struct {
	path   string
	logger *logrus.Logger

	mu     sync.Mutex
	userID string
}

// NewFileAuthenticator creates an authenticator backed by path
func NewFileAuthenticator(path string, logger *logrus.Logger) *FileAuthenticator {
	if logger == nil {
		logger = logrus.New()
	}
	return &FileAuthenticator{path: path, logger: logger}
}

// SignIn returns the stored user id, generating and saving one on first use
func (a *FileAuthenticator) SignIn(ctx context.Context) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	if a.userID != "" {
		return a.userID, nil
	}

	data, err := os.ReadFile(a.path)
	switch {
	case err == nil:
		id := strings.TrimSpace(string(data))
		if _, perr := uuid.Parse(id); perr == nil {
			a.userID = id
			return id, nil
		}
		a.logger.WithField("path", a.path).Warn("Identity file is corrupt, generating a new user id")
	case !errors.Is(err, os.ErrNotExist):
		return "", fmt.Errorf("failed to read identity file: %w", err)
	}

	id := uuid.NewString()
	if err := os.MkdirAll(filepath.Dir(a.path), 0755); err != nil {
		return "", fmt.Errorf("failed to create identity directory: %w", err)
	}
	if err := os.WriteFile(a.path, []byte(id+"\n"), 0600); err != nil {
		return "", fmt.Errorf("failed to write identity file: %w", err)
	}

	a.logger.WithFields(logrus.Fields{
		"user_id": id,
		"path":    a.path,
	}).Info("Generated new device identity")

	a.userID = id
	return id, nil
}

// Static always signs in as the same user id
type Static string

func (s Static) SignIn(ctx context.Context) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if s == "" {
		return "", errors.New("empty static user id")
	}
	return string(s), nil
}
