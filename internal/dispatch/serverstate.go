package dispatch

import "sync/atomic"

// ServerState is an immutable, copy-on-write snapshot of listener
// bookkeeping (§4.B). The Reader is the only writer; every mutator
// returns a new value rather than touching the receiver, so a snapshot
// handed to another goroutine (the Engine, via WorkQueue.TakeNextWork)
// can never be mutated out from under it.
type ServerState struct {
	eventListeners map[*Client]struct{}
	buildListeners map[*Client]struct{}
	keyListeners   map[ScopedKey]map[*Client]struct{}
}

// NewServerState returns an empty ServerState.
func NewServerState() ServerState {
	return ServerState{
		eventListeners: map[*Client]struct{}{},
		buildListeners: map[*Client]struct{}{},
		keyListeners:   map[ScopedKey]map[*Client]struct{}{},
	}
}

// AddEventListener returns a new ServerState with c added to the event
// listener set. Idempotent: adding a client already present yields an
// equivalent state.
func (s ServerState) AddEventListener(c *Client) ServerState {
	next := s.shallowCopy()
	next.eventListeners[c] = struct{}{}
	return next
}

// AddBuildListener returns a new ServerState with c added to the build
// listener set.
func (s ServerState) AddBuildListener(c *Client) ServerState {
	next := s.shallowCopy()
	next.buildListeners[c] = struct{}{}
	return next
}

// AddKeyListener returns a new ServerState with c added to key's listener
// set.
func (s ServerState) AddKeyListener(c *Client, key ScopedKey) ServerState {
	next := s.shallowCopy()
	set, ok := next.keyListeners[key]
	if !ok {
		set = map[*Client]struct{}{}
	} else {
		set = copySet(set)
	}
	set[c] = struct{}{}
	next.keyListeners[key] = set
	return next
}

// Disconnect returns a new ServerState with c removed from every listener
// set. Safe to call for a client that was never registered.
func (s ServerState) Disconnect(c *Client) ServerState {
	next := s.shallowCopy()
	delete(next.eventListeners, c)
	delete(next.buildListeners, c)
	for key, set := range next.keyListeners {
		if _, ok := set[c]; !ok {
			continue
		}
		set = copySet(set)
		delete(set, c)
		if len(set) == 0 {
			delete(next.keyListeners, key)
		} else {
			next.keyListeners[key] = set
		}
	}
	return next
}

// EventListeners returns the current event listener set. Callers must
// treat the returned map as read-only.
func (s ServerState) EventListeners() map[*Client]struct{} { return s.eventListeners }

// BuildListeners returns the current build listener set. Callers must
// treat the returned map as read-only.
func (s ServerState) BuildListeners() map[*Client]struct{} { return s.buildListeners }

// KeyListenersFor returns the listener set for key, or nil if none.
func (s ServerState) KeyListenersFor(key ScopedKey) map[*Client]struct{} {
	return s.keyListeners[key]
}

// KeyListeners returns the full key-to-listeners map. Callers must treat
// the returned map (and its values) as read-only.
func (s ServerState) KeyListeners() map[ScopedKey]map[*Client]struct{} { return s.keyListeners }

func (s ServerState) shallowCopy() ServerState {
	return ServerState{
		eventListeners: copySet(s.eventListeners),
		buildListeners: copySet(s.buildListeners),
		keyListeners:   copyKeyListeners(s.keyListeners),
	}
}

func copySet(m map[*Client]struct{}) map[*Client]struct{} {
	out := make(map[*Client]struct{}, len(m)+1)
	for k := range m {
		out[k] = struct{}{}
	}
	return out
}

func copyKeyListeners(m map[ScopedKey]map[*Client]struct{}) map[ScopedKey]map[*Client]struct{} {
	out := make(map[ScopedKey]map[*Client]struct{}, len(m))
	for k, v := range m {
		out[k] = v // shared until a key-specific mutator copies it
	}
	return out
}

// ServerStateRef is the single-writer atomic cell publishing ServerState
// from the Reader. Per §4.B the Reader is the sole writer; this
// implementation also permits read access from the Engine Loop, which
// needs the current listener sets to broadcast BuildLoaded and friends —
// see DESIGN.md's "Engine read access to ServerState" note.
type ServerStateRef struct {
	v atomic.Pointer[ServerState]
}

// NewServerStateRef creates a ref pre-populated with an empty ServerState.
func NewServerStateRef() *ServerStateRef {
	r := &ServerStateRef{}
	empty := NewServerState()
	r.v.Store(&empty)
	return r
}

// Store publishes a new ServerState. Only the Reader calls this.
func (r *ServerStateRef) Store(s ServerState) { r.v.Store(&s) }

// Load returns the most recently published ServerState.
func (r *ServerStateRef) Load() ServerState { return *r.v.Load() }
