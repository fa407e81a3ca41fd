package presence

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestPeerSetIdempotence(t *testing.T) {
	s := NewPeerSet()

	assert.True(t, s.Add("b"))
	assert.False(t, s.Add("b"))
	assert.True(t, s.Add("a"))
	assert.Equal(t, 2, s.Len())
	assert.Equal(t, []string{"a", "b"}, s.Snapshot())

	assert.True(t, s.Remove("b"))
	assert.False(t, s.Remove("b"))
	assert.False(t, s.Remove("unknown"))
	assert.Equal(t, []string{"a"}, s.Snapshot())

	assert.True(t, s.Clear())
	assert.False(t, s.Clear())
	assert.Empty(t, s.Snapshot())
}

func TestPeerSetSnapshotIsDetached(t *testing.T) {
	s := NewPeerSet()
	s.Add("a")

	snapshot := s.Snapshot()
	s.Add("b")
	snapshot[0] = "changed"

	assert.Equal(t, []string{"changed"}, snapshot)
	assert.Equal(t, []string{"a", "b"}, s.Snapshot())
}
