package dispatch

// Reply pairs a Response with the serial it correlates to.
type Reply struct {
	Serial   uint64
	Response Response
}

// Client is a per-connection handle: identity, an event stream, and a
// reply stream. Equality is Go pointer identity on *Client, the same way
// the example pack's teranos-QNTX/server keys its client set with
// map[*Client]bool — a client is who it is by address, not by value.
//
// Send and Reply are both non-blocking from the caller's perspective:
// backpressure is the transport's problem (§4.A). A full channel invokes
// onSlow (if set) so the transport layer can decide what to do about a
// client that cannot keep up — typically disconnect it, mirroring
// teranos-QNTX/server/client.go's removeSlowClient.
type Client struct {
	id      string
	events  chan Event
	replies chan Reply
	onSlow  func(*Client)
}

// NewClient creates a Client with the given buffered channel capacity for
// both events and replies. onSlow, if non-nil, is invoked (at most once
// per overflowing call, from the caller's goroutine) when either channel
// is full.
func NewClient(id string, bufSize int, onSlow func(*Client)) *Client {
	if bufSize <= 0 {
		bufSize = 1
	}
	return &Client{
		id:      id,
		events:  make(chan Event, bufSize),
		replies: make(chan Reply, bufSize),
		onSlow:  onSlow,
	}
}

// ID returns the client's stable identity string, used only for logging
// and diagnostics — equality must always use pointer comparison, never ID.
func (c *Client) ID() string { return c.id }

// Send delivers ev to this client's event stream, fire-and-forget, in
// FIFO order relative to other Send calls for the same client (replies go
// through a separate channel, so no order is kept against Reply). Safe
// to call from any goroutine without holding any lock.
func (c *Client) Send(ev Event) {
	select {
	case c.events <- ev:
	default:
		if c.onSlow != nil {
			c.onSlow(c)
		}
	}
}

// Reply delivers a correlated response to this client. Safe to call from
// any goroutine without holding any lock.
func (c *Client) Reply(serial uint64, resp Response) {
	select {
	case c.replies <- Reply{Serial: serial, Response: resp}:
	default:
		if c.onSlow != nil {
			c.onSlow(c)
		}
	}
}

// Events returns the channel the transport layer drains to deliver events
// to the wire.
func (c *Client) Events() <-chan Event { return c.events }

// Replies returns the channel the transport layer drains to deliver
// replies to the wire.
func (c *Client) Replies() <-chan Reply { return c.replies }
