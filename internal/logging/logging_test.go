package logging

import (
	"os"
	"path/filepath"
	"testing"

	"roomsync/internal/config"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewLevelsAndFormats(t *testing.T) {
	logger, closer, err := New(config.LoggingConfig{Level: "debug", Format: "json"})
	require.NoError(t, err)
	defer closer.Close()

	assert.Equal(t, logrus.DebugLevel, logger.GetLevel())
	assert.IsType(t, &logrus.JSONFormatter{}, logger.Formatter)

	logger, closer, err = New(config.LoggingConfig{Level: "warn", Format: "text"})
	require.NoError(t, err)
	defer closer.Close()
	assert.Equal(t, logrus.WarnLevel, logger.GetLevel())
	assert.IsType(t, &logrus.TextFormatter{}, logger.Formatter)
}

func TestNewRejectsUnknownLevel(t *testing.T) {
	_, _, err := New(config.LoggingConfig{Level: "chatty", Format: "text"})
	assert.Error(t, err)
}

func TestNewWritesToFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "roomsync.log")

	logger, closer, err := New(config.LoggingConfig{Level: "info", Format: "json", File: path})
	require.NoError(t, err)
	logger.WithField("room_id", "r1").Info("Joined room")
	require.NoError(t, closer.Close())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"room_id":"r1"`)
	assert.Contains(t, string(data), "Joined room")
}
