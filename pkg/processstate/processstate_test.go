package processstate

import (
	"context"
	"os"
	"testing"

	"github.com/WittorioJaro/localAgents/pkg/errors"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIsProcessRunning(t *testing.T) {
	running, err := IsProcessRunning(os.Getpid())
	require.NoError(t, err)
	assert.True(t, running)

	_, err = IsProcessRunning(0)
	assert.True(t, errors.IsValidationError(err))

	_, err = IsProcessRunning(-12)
	assert.True(t, errors.IsValidationError(err))
}

func TestTake_Self(t *testing.T) {
	snapshot, err := Take(context.Background(), os.Getpid())
	require.NoError(t, err)

	assert.True(t, snapshot.Running)
	assert.Equal(t, os.Getpid(), snapshot.PID)
	assert.NotEmpty(t, snapshot.Name)
	assert.Greater(t, snapshot.RSSBytes, uint64(0))
	assert.False(t, snapshot.CreatedAt.IsZero())
}
