// Package dashboard serves a read-only HTML status page summarizing the
// dispatcher's current build structure and recent execution history. It
// subscribes to the dispatcher's event stream the same way any other
// client does, renders a markdown snapshot through goldmark, and serves
// the result over plain net/http — never calling back into the
// dispatcher.
package dashboard
