package dispatch

import "testing"

func TestClient_SendDelivers(t *testing.T) {
	c := NewClient("c1", 2, nil)
	c.Send(NowListening{})
	select {
	case ev := <-c.Events():
		if _, ok := ev.(NowListening); !ok {
			t.Fatalf("event = %T, want NowListening", ev)
		}
	default:
		t.Fatal("expected an event to be buffered")
	}
}

func TestClient_SendOverflowCallsOnSlow(t *testing.T) {
	var slowCalls int
	c := NewClient("c1", 1, func(*Client) { slowCalls++ })
	c.Send(NowListening{})
	c.Send(NowListening{}) // channel full now
	if slowCalls != 1 {
		t.Fatalf("onSlow called %d times, want 1", slowCalls)
	}
}

func TestClient_ReplyCorrelatesSerial(t *testing.T) {
	c := NewClient("c1", 1, nil)
	c.Reply(42, ErrorResponse{Message: "boom"})
	reply := <-c.Replies()
	if reply.Serial != 42 {
		t.Fatalf("Serial = %d, want 42", reply.Serial)
	}
	if _, ok := reply.Response.(ErrorResponse); !ok {
		t.Fatalf("Response = %T, want ErrorResponse", reply.Response)
	}
}

func TestClient_IdentityIsPointer(t *testing.T) {
	a := NewClient("same-id", 1, nil)
	b := NewClient("same-id", 1, nil)
	set := map[*Client]struct{}{a: {}}
	if _, ok := set[b]; ok {
		t.Fatal("distinct Client values with the same ID string must not collide as map keys")
	}
}
