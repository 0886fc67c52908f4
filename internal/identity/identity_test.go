package identity

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func quietLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetLevel(logrus.ErrorLevel)
	return logger
}

func TestFileAuthenticatorPersistsID(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state", "identity")
	ctx := context.Background()

	first, err := NewFileAuthenticator(path, quietLogger()).SignIn(ctx)
	require.NoError(t, err)
	_, err = uuid.Parse(first)
	require.NoError(t, err)

	second, err := NewFileAuthenticator(path, quietLogger()).SignIn(ctx)
	require.NoError(t, err)
	assert.Equal(t, first, second)
}

func TestFileAuthenticatorReplacesCorruptFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "identity")
	require.NoError(t, os.WriteFile(path, []byte("not-a-uuid"), 0600))

	id, err := NewFileAuthenticator(path, quietLogger()).SignIn(context.Background())
	require.NoError(t, err)
	assert.NotEqual(t, "not-a-uuid", id)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), id)
}

func TestStatic(t *testing.T) {
	id, err := Static("device-a").SignIn(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "device-a", id)

	_, err = Static("").SignIn(context.Background())
	assert.Error(t, err)
}
