// Package server tracks the set of currently-open client sessions for the
// broadcast engine.
package server

// registry is the live-session set. It performs no I/O and holds no locks:
// the hub goroutine is its single owner, so access is already serialized.
type registry struct {
	sessions map[*Client]struct{}
}

func newRegistry() *registry {
	return &registry{sessions: make(map[*Client]struct{})}
}

func (r *registry) register(c *Client) {
	r.sessions[c] = struct{}{}
}

// unregister removes a session. Removing an already-absent session is a
// no-op, not an error.
func (r *registry) unregister(c *Client) bool {
	if _, ok := r.sessions[c]; !ok {
		return false
	}
	delete(r.sessions, c)
	return true
}

func (r *registry) contains(c *Client) bool {
	_, ok := r.sessions[c]
	return ok
}

// liveMembers returns the sessions whose transport is still open at call
// time. Closure can race with broadcast, so readiness is checked here
// per-session rather than trusting membership alone.
func (r *registry) liveMembers() []*Client {
	members := make([]*Client, 0, len(r.sessions))
	for c := range r.sessions {
		if c.closed {
			continue
		}
		members = append(members, c)
	}
	return members
}

func (r *registry) len() int {
	return len(r.sessions)
}
