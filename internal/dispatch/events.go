package dispatch

// Event is the sealed set of messages broadcast to subscribed listeners
// (§6). Events travel one-way, Reader/Engine to Client, via Client.Send.
type Event interface {
	isEvent()
}

// NowListening confirms a ListenToEvents subscription once the build is up.
type NowListening struct{}

// BuildLoaded announces the first successful BuildState publication.
type BuildLoaded struct{}

// BuildStructureChanged announces a change in the build's project/key
// shape to build listeners.
type BuildStructureChanged struct {
	Structure BuildStructure
}

// ExecutionSuccess announces that the CommandExecution with ID completed
// successfully.
type ExecutionSuccess struct {
	ID uint64
}

// ExecutionFailure announces that the CommandExecution with ID failed.
type ExecutionFailure struct {
	ID uint64
}

// ValueChange announces a new value for a setting-kind key to its
// listeners.
type ValueChange struct {
	Key   ScopedKey
	Value Value
}

// WorkQueueChanged reports the Work Queue's current depth to build
// listeners. This is the §9 "work queue changed" extension point, left
// unused by the source; here it is wired to a concrete notification.
type WorkQueueChanged struct {
	Depth int
}

func (NowListening) isEvent()          {}
func (BuildLoaded) isEvent()           {}
func (BuildStructureChanged) isEvent() {}
func (ExecutionSuccess) isEvent()      {}
func (ExecutionFailure) isEvent()      {}
func (ValueChange) isEvent()           {}
func (WorkQueueChanged) isEvent()      {}

// Response is the sealed set of correlated replies sent via Client.Reply.
type Response interface {
	isResponse()
}

// ErrorResponse reports a HandlerException (§7) back to the originating
// client without killing the Reader.
type ErrorResponse struct {
	Message string
}

// KeyLookupResponse answers a KeyLookup request. Keys may be empty; this
// is never an error reply, per §7 (ParseFailure normalizes to empty).
type KeyLookupResponse struct {
	Text string
	Keys []ScopedKey
}

// KeyNotFoundResponse answers a ListenToValue request whose Key did not
// resolve against BuildState.
type KeyNotFoundResponse struct {
	Key ScopedKey
}

// BuildStructureResponse answers a ListenToBuildChange request with the
// current build structure.
type BuildStructureResponse struct {
	Structure BuildStructure
}

// CommandCompletionsResponse answers a CommandCompletions request.
type CommandCompletionsResponse struct {
	ID          string
	Completions []string
}

// ExecutionRequestReceived acknowledges an Execution request with the
// (possibly shared, via coalescing) work id that will run it.
type ExecutionRequestReceived struct {
	ID uint64
}

func (ErrorResponse) isResponse()              {}
func (KeyLookupResponse) isResponse()          {}
func (KeyNotFoundResponse) isResponse()        {}
func (BuildStructureResponse) isResponse()     {}
func (CommandCompletionsResponse) isResponse() {}
func (ExecutionRequestReceived) isResponse()   {}
