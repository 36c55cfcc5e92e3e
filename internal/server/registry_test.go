package server

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestRegistry_RegisterAndUnregister(t *testing.T) {
	req := require.New(t)
	r := newRegistry()
	c := &Client{}

	r.register(c)
	req.True(r.contains(c))
	req.Equal(1, r.len())

	req.True(r.unregister(c))
	req.False(r.contains(c))
	req.Equal(0, r.len())
}

func TestRegistry_UnregisterIsIdempotent(t *testing.T) {
	req := require.New(t)
	r := newRegistry()
	c := &Client{}

	req.False(r.unregister(c))

	r.register(c)
	req.True(r.unregister(c))
	req.False(r.unregister(c))
}

func TestRegistry_LiveMembersExcludesClosedSessions(t *testing.T) {
	req := require.New(t)
	r := newRegistry()

	open := &Client{}
	closing := &Client{closed: true}
	r.register(open)
	r.register(closing)

	members := r.liveMembers()
	req.Len(members, 1)
	req.Same(open, members[0])
	// Still registered, just not a broadcast target.
	req.Equal(2, r.len())
}
