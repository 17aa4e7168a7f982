package dispatch

import (
	"context"
	"sync/atomic"
)

// LastCommand is the per-execution record carrying the active work's id
// and cancel handle (§3). It lives inside the published EngineSnapshot so
// Cancel requests (handled on the Reader) can reach it without a third
// shared mutable cell.
type LastCommand struct {
	ID     uint64
	cancel context.CancelFunc
}

// Cancel signals the command's cancellation, best-effort (§5): a command
// that never observes its context's Done channel runs to completion
// regardless.
func (l *LastCommand) Cancel() {
	if l != nil && l.cancel != nil {
		l.cancel()
	}
}

// EngineSnapshot bundles the Engine-published BuildState with the
// currently running command's LastCommand (nil when idle). Bundling these
// into one atomically-published value keeps §9's "two cells only" promise
// — BuildState and LastCommand are both Engine-owned, single-writer, and
// change together at every command boundary.
type EngineSnapshot struct {
	BuildState BuildState
	Current    *LastCommand
	booted     bool
}

// EngineStateRef is the single-writer (Engine), multi-reader atomic cell
// from §4.F. Null (unbooted) until the first Publish.
type EngineStateRef struct {
	v atomic.Pointer[EngineSnapshot]
}

// NewEngineStateRef creates an unbooted ref.
func NewEngineStateRef() *EngineStateRef {
	return &EngineStateRef{}
}

// Load returns the current snapshot and whether the build has booted yet.
// Before the first Publish, ok is false and the zero BuildState is
// returned.
func (r *EngineStateRef) Load() (snap EngineSnapshot, ok bool) {
	p := r.v.Load()
	if p == nil || !p.booted {
		return EngineSnapshot{}, false
	}
	return *p, true
}

// Publish stores a new BuildState, preserving whatever LastCommand is
// currently set (or clearing it, if current is explicitly passed as the
// new value by SetCurrent). Only the Engine Loop calls this.
func (r *EngineStateRef) Publish(bs BuildState) {
	prev := r.v.Load()
	var current *LastCommand
	if prev != nil {
		current = prev.Current
	}
	r.v.Store(&EngineSnapshot{BuildState: bs, Current: current, booted: true})
}

// SetCurrent updates the in-flight LastCommand without changing the
// published BuildState. Pass nil to clear it (command finished).
func (r *EngineStateRef) SetCurrent(lc *LastCommand) {
	prev := r.v.Load()
	var bs BuildState
	booted := false
	if prev != nil {
		bs = prev.BuildState
		booted = prev.booted
	}
	r.v.Store(&EngineSnapshot{BuildState: bs, Current: lc, booted: booted})
}
