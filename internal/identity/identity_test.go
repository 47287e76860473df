package identity_test

import (
	"testing"

	"github.com/Bharath-Thiravium/athens-sub000/internal/identity"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewEventID_UniqueAndParseable(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 1000; i++ {
		id := identity.NewEventID()
		_, err := uuid.Parse(id)
		require.NoError(t, err)
		require.False(t, seen[id])
		seen[id] = true
	}
}

func TestDeviceID_StableAcrossCalls(t *testing.T) {
	dir := t.TempDir()

	first, err := identity.DeviceID(dir)
	require.NoError(t, err)
	require.NotEmpty(t, first)

	// Same installation dir yields the same id, simulating a process restart
	second, err := identity.DeviceID(dir)
	require.NoError(t, err)
	assert.Equal(t, first, second)
}

func TestDeviceID_DistinctPerInstallation(t *testing.T) {
	a, err := identity.DeviceID(t.TempDir())
	require.NoError(t, err)
	b, err := identity.DeviceID(t.TempDir())
	require.NoError(t, err)
	assert.NotEqual(t, a, b)
}
