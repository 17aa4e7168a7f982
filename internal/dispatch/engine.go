package dispatch

import (
	"context"
	"log/slog"
	"reflect"
)

// Engine is the single-threaded build collaborator the Engine Loop drives.
// Boot performs the (potentially slow) initial build load; Execute runs one
// command to completion, returning the resulting BuildState so the loop can
// detect structure and value changes. Both methods are called from exactly
// one goroutine — the Engine Loop — so implementations need no internal
// locking of their own (§1: "process launching ... is out of scope" for
// this package; buildengine.Runner is the concrete implementation).
type Engine interface {
	Boot(ctx context.Context) (BuildState, error)
	Execute(ctx context.Context, command string, current BuildState) (BuildState, error)
}

// EngineLoop is the §4.G/§4.H collaborator: it owns EngineStateRef, reads
// ServerStateRef (read-only, see DESIGN.md), and is the sole consumer of
// WorkQueue.TakeNextWork.
type EngineLoop struct {
	engine      Engine
	work        *WorkQueue
	engineState *EngineStateRef
	serverState *ServerStateRef
	log         *slog.Logger
}

// NewEngineLoop wires an EngineLoop from its collaborators.
func NewEngineLoop(engine Engine, work *WorkQueue, engineState *EngineStateRef, serverState *ServerStateRef, log *slog.Logger) *EngineLoop {
	if log == nil {
		log = slog.Default()
	}
	return &EngineLoop{
		engine:      engine,
		work:        work,
		engineState: engineState,
		serverState: serverState,
		log:         log,
	}
}

// Run boots the engine, publishes the initial BuildState, and then
// processes work items until an EndOfWork is taken or stop is closed.
// Boot failure is reported but does not end the process (§9: Phase 1/2
// failures are recovered and logged, not fatal) — Run returns the error so
// the caller can decide, but the loop never panics on it.
func (l *EngineLoop) Run(ctx context.Context, stop <-chan struct{}) error {
	bs, err := l.bootWithRecovery(ctx)
	if err != nil {
		l.log.Error("engine boot failed", "error", err)
		return newError(ErrorKindFatalLoop, err)
	}
	l.engineState.Publish(bs)
	l.broadcastBuildLoaded(bs)

	for {
		state, w, ok := l.work.TakeNextWork(l.serverState, stop)
		if !ok {
			return nil
		}
		switch item := w.(type) {
		case CommandExecution:
			l.runCommand(ctx, state, item)
		case EndOfWork:
			return nil
		default:
			l.log.Error("unknown work item", "type", item)
		}
	}
}

func (l *EngineLoop) bootWithRecovery(ctx context.Context) (bs BuildState, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = newError(ErrorKindFatalLoop, errFromRecover(r))
		}
	}()
	return l.engine.Boot(ctx)
}

func (l *EngineLoop) runCommand(ctx context.Context, state ServerState, ce CommandExecution) {
	cctx, cancel := context.WithCancel(ctx)
	l.engineState.SetCurrent(&LastCommand{ID: ce.ID, cancel: cancel})
	defer func() {
		l.engineState.SetCurrent(nil)
		cancel()
	}()

	prev, _ := l.engineState.Load()
	newState, err := l.executeWithRecovery(cctx, ce.Command, prev.BuildState)

	if err != nil {
		l.log.Error("command failed", "command", ce.Command, "id", ce.ID, "error", err)
		l.notifyRequesters(state, ce, ExecutionFailure{ID: ce.ID})
		return
	}

	l.engineState.Publish(newState)
	if !newState.Structure.Equal(prev.BuildState.Structure) {
		l.broadcastBuildStructureChange(state, newState.Structure)
	}
	l.notifyValueChanges(state, prev.BuildState, newState)
	l.notifyRequesters(state, ce, ExecutionSuccess{ID: ce.ID})
}

func (l *EngineLoop) executeWithRecovery(ctx context.Context, command string, bs BuildState) (out BuildState, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = newError(ErrorKindCommandFailure, errFromRecover(r))
		}
	}()
	return l.engine.Execute(ctx, command, bs)
}

func (l *EngineLoop) notifyRequesters(state ServerState, ce CommandExecution, ev Event) {
	for _, c := range ce.Requesters {
		c.Send(ev)
	}
	for c := range state.EventListeners() {
		c.Send(ev)
	}
}

func (l *EngineLoop) broadcastBuildLoaded(bs BuildState) {
	state := l.serverState.Load()
	for c := range state.EventListeners() {
		c.Send(BuildLoaded{})
	}
	l.broadcastBuildStructureChange(state, bs.Structure)
}

func (l *EngineLoop) broadcastBuildStructureChange(state ServerState, structure BuildStructure) {
	for c := range state.BuildListeners() {
		c.Send(BuildStructureChanged{Structure: structure})
	}
}

func (l *EngineLoop) notifyValueChanges(state ServerState, prev, next BuildState) {
	for _, key := range next.Structure.Keys {
		def, ok := next.Lookup(key)
		if !ok || def.Kind != KeyKindSetting {
			continue
		}
		if prevDef, wasOk := prev.Lookup(key); wasOk && equalValue(prevDef.Value, def.Value) {
			continue
		}
		for c := range state.KeyListenersFor(key) {
			c.Send(ValueChange{Key: key, Value: def.Value})
		}
	}
}

func equalValue(a, b Value) bool {
	return reflect.DeepEqual(a, b)
}

func errFromRecover(r any) error {
	if err, ok := r.(error); ok {
		return err
	}
	return panicError{r}
}

type panicError struct{ v any }

func (p panicError) Error() string { return "panic: " + formatAny(p.v) }

func formatAny(v any) string {
	if s, ok := v.(string); ok {
		return s
	}
	if err, ok := v.(error); ok {
		return err.Error()
	}
	return "unrecoverable panic value"
}
