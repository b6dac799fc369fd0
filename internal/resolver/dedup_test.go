package resolver

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestDedup(t *testing.T) {
	d := NewDedup(50 * time.Millisecond)

	require.False(t, d.IsDuplicate("resolver:market:1"))
	require.True(t, d.IsDuplicate("resolver:market:1"))
	require.False(t, d.IsDuplicate("resolver:market:2"))

	time.Sleep(60 * time.Millisecond)
	require.False(t, d.IsDuplicate("resolver:market:1"))
}

func TestDedupCleanup(t *testing.T) {
	d := NewDedup(10 * time.Millisecond)
	require.False(t, d.IsDuplicate("a"))
	require.False(t, d.IsDuplicate("b"))

	time.Sleep(20 * time.Millisecond)
	d.Cleanup()

	d.mu.Lock()
	defer d.mu.Unlock()
	require.Empty(t, d.seen)
}
