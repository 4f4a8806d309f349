package server

import (
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistry_AddGetRemove(t *testing.T) {
	relay := newTestRelay(t, nil)
	reg := NewRegistry()
	c, _ := newIdleConnection(t, relay, "c1")

	reg.Add(c)
	got, ok := reg.Get("c1")
	require.True(t, ok)
	assert.Same(t, c, got)
	assert.Equal(t, 1, reg.Count())

	assert.True(t, reg.Remove(c))
	_, ok = reg.Get("c1")
	assert.False(t, ok)
	assert.Equal(t, 0, reg.Count())
}

func TestRegistry_RemoveIsIdempotent(t *testing.T) {
	relay := newTestRelay(t, nil)
	reg := NewRegistry()
	c, _ := newIdleConnection(t, relay, "c1")
	reg.Add(c)
	_, ok := reg.Bind("alice", c)
	require.True(t, ok)

	assert.True(t, reg.Remove(c))
	assert.False(t, reg.Remove(c))

	assert.Equal(t, 0, reg.Count())
	assert.Equal(t, 0, reg.IdentityCount())
}

func TestRegistry_BindLastRegistrationWins(t *testing.T) {
	relay := newTestRelay(t, nil)
	reg := NewRegistry()
	first, _ := newIdleConnection(t, relay, "c1")
	second, _ := newIdleConnection(t, relay, "c2")
	reg.Add(first)
	reg.Add(second)

	prev, ok := reg.Bind("alice", first)
	require.True(t, ok)
	assert.Nil(t, prev)

	prev, ok = reg.Bind("alice", second)
	require.True(t, ok)
	assert.Same(t, first, prev)

	got, ok := reg.Lookup("alice")
	require.True(t, ok)
	assert.Same(t, second, got)

	// The displaced connection stays registered and open.
	_, ok = reg.Get("c1")
	assert.True(t, ok)
	assert.True(t, first.IsOpen())
	assert.Equal(t, 2, reg.Count())
	assert.Equal(t, 1, reg.IdentityCount())
}

func TestRegistry_RemoveKeepsNewerBinding(t *testing.T) {
	relay := newTestRelay(t, nil)
	reg := NewRegistry()
	first, _ := newIdleConnection(t, relay, "c1")
	second, _ := newIdleConnection(t, relay, "c2")
	reg.Add(first)
	reg.Add(second)
	reg.Bind("alice", first)
	reg.Bind("alice", second)

	reg.Remove(first)

	got, ok := reg.Lookup("alice")
	require.True(t, ok)
	assert.Same(t, second, got)
}

func TestRegistry_RebindReleasesPreviousIdentity(t *testing.T) {
	relay := newTestRelay(t, nil)
	reg := NewRegistry()
	c, _ := newIdleConnection(t, relay, "c1")
	reg.Add(c)

	reg.Bind("alice", c)
	reg.Bind("bob", c)

	_, ok := reg.Lookup("alice")
	assert.False(t, ok)
	got, ok := reg.Lookup("bob")
	require.True(t, ok)
	assert.Same(t, c, got)
	assert.Equal(t, "bob", c.AppUserID())
}

func TestRegistry_RebindSameIdentity(t *testing.T) {
	relay := newTestRelay(t, nil)
	reg := NewRegistry()
	c, _ := newIdleConnection(t, relay, "c1")
	reg.Add(c)

	reg.Bind("alice", c)
	prev, ok := reg.Bind("alice", c)
	require.True(t, ok)
	assert.Nil(t, prev)
	assert.Equal(t, 1, reg.IdentityCount())
}

func TestRegistry_BindRejectsClosedConnection(t *testing.T) {
	relay := newTestRelay(t, nil)
	reg := NewRegistry()
	c, _ := newIdleConnection(t, relay, "c1")
	reg.Add(c)
	c.release()

	_, ok := reg.Bind("alice", c)
	assert.False(t, ok)
	_, found := reg.Lookup("alice")
	assert.False(t, found)
}

func TestRegistry_Snapshot(t *testing.T) {
	relay := newTestRelay(t, nil)
	reg := NewRegistry()
	for i := 0; i < 5; i++ {
		c, _ := newIdleConnection(t, relay, fmt.Sprintf("c%d", i))
		reg.Add(c)
	}

	snap := reg.Snapshot()
	assert.Len(t, snap, 5)

	// Mutating the registry does not affect an existing snapshot.
	reg.Remove(snap[0])
	assert.Len(t, snap, 5)
	assert.Equal(t, 4, reg.Count())
}

func TestRegistry_ConcurrentBindSameIdentity(t *testing.T) {
	relay := newTestRelay(t, nil)
	reg := NewRegistry()

	const n = 20
	conns := make([]*Connection, n)
	for i := range conns {
		conns[i], _ = newIdleConnection(t, relay, fmt.Sprintf("c%d", i))
		reg.Add(conns[i])
	}

	var wg sync.WaitGroup
	for _, c := range conns {
		wg.Add(1)
		go func(c *Connection) {
			defer wg.Done()
			reg.Bind("shared", c)
		}(c)
	}
	wg.Wait()

	got, ok := reg.Lookup("shared")
	require.True(t, ok)
	assert.Equal(t, "shared", got.AppUserID())
	assert.Equal(t, 1, reg.IdentityCount())
	assert.Equal(t, n, reg.Count())
}
