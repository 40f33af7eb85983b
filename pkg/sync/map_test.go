package sync_test

import (
	"testing"

	"github.com/hbomb79/Medialink/pkg/sync"
	"github.com/stretchr/testify/assert"
)

func TestTypedSyncMap(t *testing.T) {
	var m sync.TypedSyncMap[string, int]

	_, ok := m.Load("missing")
	assert.False(t, ok)

	m.Store("a", 1)
	m.Store("b", 2)
	v, ok := m.Load("a")
	assert.True(t, ok)
	assert.Equal(t, 1, v)
	assert.Equal(t, 2, m.Len())

	assert.False(t, m.CompareAndDelete("a", 5), "value mismatch must not delete")
	assert.True(t, m.CompareAndDelete("a", 1))
	assert.Equal(t, 1, m.Len())

	seen := make(map[string]int)
	m.Range(func(k string, v int) bool {
		seen[k] = v
		return true
	})
	assert.Equal(t, map[string]int{"b": 2}, seen)

	m.Delete("b")
	assert.Equal(t, 0, m.Len())
}
