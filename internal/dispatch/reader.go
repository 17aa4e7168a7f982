package dispatch

import (
	"context"
	"log/slog"
	"time"
)

// bootPollInterval bounds how long the Reader's pre-build phase waits on
// an empty RequestQueue before re-checking whether the Engine has
// published its first BuildState. Requests submitted during this phase are
// still queued and answered as soon as the boot completes; it is not a
// lost-wakeup window, just a polling cadence.
const bootPollInterval = 50 * time.Millisecond

// deferredStartupBufferDefault bounds how many requests the Reader will
// hold in its own pre-build backlog before it starts rejecting new ones
// with a QueueFull ErrorResponse rather than growing unbounded.
// This resolves §9's "deferred_startup_buffer" open question.
const deferredStartupBufferDefault = 64

// ReaderLoop is the §4.D collaborator: the sole writer of ServerState and
// the sole consumer of RequestQueue.
type ReaderLoop struct {
	requests    *RequestQueue
	work        *WorkQueue
	serverState *ServerStateRef
	engineState *EngineStateRef
	backlogCap  int
	log         *slog.Logger

	// onExecution, if set, is called after an Execution request is
	// enqueued onto the Work Queue, with the assigned work id and the
	// submitted command text. It is a generic extension point for
	// Post-Command Cleanup collaborators (§4.H) that need to correlate a
	// work id back to the command that produced it; the dispatcher core
	// has no opinion on what it does with that correlation.
	onExecution func(id uint64, command string)
}

// NewReaderLoop wires a ReaderLoop. backlogCap <= 0 uses
// deferredStartupBufferDefault.
func NewReaderLoop(requests *RequestQueue, work *WorkQueue, serverState *ServerStateRef, engineState *EngineStateRef, backlogCap int, log *slog.Logger) *ReaderLoop {
	if backlogCap <= 0 {
		backlogCap = deferredStartupBufferDefault
	}
	if log == nil {
		log = slog.Default()
	}
	return &ReaderLoop{
		requests:    requests,
		work:        work,
		serverState: serverState,
		engineState: engineState,
		backlogCap:  backlogCap,
		log:         log,
	}
}

// SetOnExecution installs the Post-Command Cleanup correlation hook. Must
// be called before Run.
func (r *ReaderLoop) SetOnExecution(fn func(id uint64, command string)) {
	r.onExecution = fn
}

// Run drives the three-phase loop described in §4.D until ctx is
// cancelled: pre-build polling (buffering requests while the Engine boots),
// the boot handover (draining the backlog once BuildState first appears),
// and steady-state dispatch. Each phase runs inside its own recover, so a
// single malformed request can never take the Reader down. In Phase 1 a
// panic is logged as FatalLoop; in the later phases it becomes a
// HandlerException ErrorResponse to the offending client.
func (r *ReaderLoop) Run(ctx context.Context) {
	backlog := r.prebuildPhase(ctx)
	if ctx.Err() != nil {
		return
	}
	r.bootHandover(backlog)
	r.steadyState(ctx)
}

// prebuildPhase implements §4.D Phase 1. ListenToEvents, ClientClosed, and
// Execution are handled immediately — the first two because the listener
// bookkeeping they touch doesn't depend on BuildState, the last because
// the Work Queue can hold work before the Engine is up. Everything else is
// appended to a bounded deferred startup buffer and answered once the
// build is loaded.
func (r *ReaderLoop) prebuildPhase(ctx context.Context) []ServerRequest {
	var backlog []ServerRequest
	for {
		if _, ok := r.engineState.Load(); ok {
			return backlog
		}
		req, ok := r.requests.DequeueTimeout(ctx, bootPollInterval)
		if !ok {
			if ctx.Err() != nil {
				return backlog
			}
			continue
		}
		switch req.Request.(type) {
		case ListenToEvents, ClientClosed, Execution:
			r.handlePrebuildWithRecovery(req)
		default:
			if len(backlog) >= r.backlogCap {
				req.Client.Reply(req.Serial, ErrorResponse{Message: ErrQueueFull.Error() + ": deferred startup buffer full"})
				continue
			}
			backlog = append(backlog, req)
		}
	}
}

// handlePrebuildWithRecovery handles the three request kinds Phase 1 acts
// on immediately, per §4.D: a listener is registered (without the
// "now listening" acknowledgement, since the build isn't up yet), a
// disconnect is applied, or an Execution is forwarded to the Work Queue.
// Panics are recovered and logged rather than taking the Reader down,
// matching the steady-state behavior in handleWithRecovery even though
// §9 leaves Phase 1/2 failure handling as an open question.
func (r *ReaderLoop) handlePrebuildWithRecovery(req ServerRequest) {
	defer func() {
		if rec := recover(); rec != nil {
			r.log.Error("pre-build request handler panicked", "error", newError(ErrorKindFatalLoop, errFromRecover(rec)))
		}
	}()
	switch reqt := req.Request.(type) {
	case ListenToEvents:
		r.serverState.Store(r.serverState.Load().AddEventListener(req.Client))

	case ClientClosed:
		r.serverState.Store(r.serverState.Load().Disconnect(req.Client))

	case Execution:
		id, err := r.work.Enqueue(reqt.Command, req.Client)
		if err != nil {
			req.Client.Reply(req.Serial, ErrorResponse{Message: err.Error()})
			return
		}
		req.Client.Reply(req.Serial, ExecutionRequestReceived{ID: id})
		if r.onExecution != nil {
			r.onExecution(id, reqt.Command)
		}
	}
}

// bootHandover implements §4.D Phase 2: broadcast NowListening to every
// event listener registered during Phase 1, then drain the deferred
// startup buffer in arrival order, processing each request as in Phase 3.
func (r *ReaderLoop) bootHandover(backlog []ServerRequest) {
	for c := range r.serverState.Load().EventListeners() {
		c.Send(NowListening{})
	}
	for _, req := range backlog {
		r.handleWithRecovery(req)
	}
}

func (r *ReaderLoop) steadyState(ctx context.Context) {
	for {
		req, ok := r.requests.Dequeue(ctx)
		if !ok {
			return
		}
		r.handleWithRecovery(req)
	}
}

func (r *ReaderLoop) handleWithRecovery(req ServerRequest) {
	defer func() {
		if rec := recover(); rec != nil {
			r.log.Error("request handler panicked", "error", errFromRecover(rec))
			req.Client.Reply(req.Serial, ErrorResponse{Message: "internal error handling request"})
		}
	}()
	r.handle(req)
}

func (r *ReaderLoop) handle(req ServerRequest) {
	switch reqt := req.Request.(type) {
	case ListenToEvents:
		r.serverState.Store(r.serverState.Load().AddEventListener(req.Client))
		req.Client.Send(NowListening{})

	case ListenToBuildChange:
		next := r.serverState.Load().AddBuildListener(req.Client)
		r.serverState.Store(next)
		snap, ok := r.engineState.Load()
		if ok {
			req.Client.Reply(req.Serial, BuildStructureResponse{Structure: snap.BuildState.Structure})
		} else {
			req.Client.Reply(req.Serial, BuildStructureResponse{})
		}

	case ClientClosed:
		r.serverState.Store(r.serverState.Load().Disconnect(req.Client))

	case KeyLookup:
		snap, _ := r.engineState.Load()
		keys := snap.BuildState.Resolve(reqt.Text)
		req.Client.Reply(req.Serial, KeyLookupResponse{Text: reqt.Text, Keys: keys})

	case ListenToValue:
		snap, _ := r.engineState.Load()
		def, ok := snap.BuildState.Lookup(reqt.Key)
		if !ok {
			req.Client.Reply(req.Serial, KeyNotFoundResponse{Key: reqt.Key})
			return
		}
		r.serverState.Store(r.serverState.Load().AddKeyListener(req.Client, reqt.Key))
		if def.Kind == KeyKindTask {
			if _, err := r.work.Enqueue(def.Command, req.Client); err != nil {
				req.Client.Reply(req.Serial, ErrorResponse{Message: err.Error()})
			}
		} else {
			req.Client.Send(ValueChange{Key: reqt.Key, Value: def.Value})
		}

	case CommandCompletions:
		snap, _ := r.engineState.Load()
		completions := snap.BuildState.Completions(reqt.Line, reqt.Level)
		req.Client.Reply(req.Serial, CommandCompletionsResponse{ID: reqt.ID, Completions: completions})

	case Execution:
		id, err := r.work.Enqueue(reqt.Command, req.Client)
		if err != nil {
			req.Client.Reply(req.Serial, ErrorResponse{Message: err.Error()})
			return
		}
		req.Client.Reply(req.Serial, ExecutionRequestReceived{ID: id})
		if r.onExecution != nil {
			r.onExecution(id, reqt.Command)
		}

	case Cancel:
		snap, ok := r.engineState.Load()
		if ok && snap.Current != nil && snap.Current.ID == reqt.ID {
			snap.Current.Cancel()
		}

	default:
		req.Client.Reply(req.Serial, ErrorResponse{Message: "unrecognized request"})
	}
}
