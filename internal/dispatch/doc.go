// Package dispatch implements the server request dispatcher that fronts a
// single-threaded build engine: a bounded request queue read by a
// non-blocking Reader, a work-coalescing queue read by a blocking Engine,
// and the atomic state handoffs between them.
//
// Exactly two goroutines matter to correctness here: the Reader (owns
// ServerState, the sole consumer of the request queue) and the Engine (owns
// EngineState, the sole consumer of WorkQueue.TakeNextWork). Everything else
// — transport goroutines, telemetry subscribers — only ever calls the
// non-blocking methods on Client, RequestQueue, and WorkQueue.
package dispatch
