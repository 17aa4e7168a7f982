package dispatch

// Request is the sealed set of tagged variants a client may submit, per
// spec §3. The unexported marker method closes the set so a type switch
// over Request can be exhaustive: the compiler (via lint) and reviewers
// can both see when a new variant appears.
type Request interface {
	isRequest()
}

// ListenToEvents subscribes the submitting client to global events.
type ListenToEvents struct{}

// ListenToBuildChange subscribes the submitting client to
// build-structure-change events.
type ListenToBuildChange struct{}

// ClientClosed is synthetic: the transport layer submits it when a
// client's connection closes, so cleanup flows through the same request
// path as every other request.
type ClientClosed struct{}

// KeyLookup parses Text into a scoped key list.
type KeyLookup struct {
	Text string
}

// ListenToValue subscribes the submitting client to Key's value. If Key
// resolves to a task, the Reader also schedules that task's execution.
type ListenToValue struct {
	Key ScopedKey
}

// CommandCompletions is a tab-completion query. ID is an opaque
// correlation token chosen by the client (distinct from ServerRequest's
// Serial, which the transport copies from the client's wire request).
type CommandCompletions struct {
	ID    string
	Line  string
	Level int
}

// Execution asks the Engine to run Command. Duplicate in-flight Execution
// requests for the same Command string are coalesced by the Work Queue.
type Execution struct {
	Command string
}

// Cancel requests cancellation of the execution identified by ID. This
// resolves spec §9's open question (the source carries no id) by
// requiring the caller to identify the specific work item.
type Cancel struct {
	ID uint64
}

func (ListenToEvents) isRequest()      {}
func (ListenToBuildChange) isRequest() {}
func (ClientClosed) isRequest()        {}
func (KeyLookup) isRequest()           {}
func (ListenToValue) isRequest()       {}
func (CommandCompletions) isRequest()  {}
func (Execution) isRequest()           {}
func (Cancel) isRequest()              {}

// ServerRequest pairs a Request with the client that submitted it and the
// client-assigned serial used to correlate the eventual reply. It is
// immutable once constructed.
type ServerRequest struct {
	Client *Client
	Serial uint64
	Request Request
}
