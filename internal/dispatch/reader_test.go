package dispatch

import (
	"context"
	"testing"
	"time"
)

func newTestReader(t *testing.T) (*ReaderLoop, *RequestQueue, *WorkQueue, *ServerStateRef, *EngineStateRef) {
	t.Helper()
	reqs := NewRequestQueue(16)
	work := NewWorkQueue(0, nil)
	serverState := NewServerStateRef()
	engineState := NewEngineStateRef()
	reader := NewReaderLoop(reqs, work, serverState, engineState, 8, nil)
	return reader, reqs, work, serverState, engineState
}

func TestReaderLoop_ListenToEventsSendsNowListening(t *testing.T) {
	reader, reqs, _, _, engineState := newTestReader(t)
	engineState.Publish(BuildState{})

	ctx, cancel := context.WithCancel(context.Background())
	go reader.Run(ctx)
	defer cancel()

	c := NewClient("c1", 4, nil)
	reqs.Enqueue(ServerRequest{Client: c, Serial: 1, Request: ListenToEvents{}})

	select {
	case ev := <-c.Events():
		if _, ok := ev.(NowListening); !ok {
			t.Fatalf("event = %T, want NowListening", ev)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for NowListening")
	}
}

func TestReaderLoop_KeyLookupReplies(t *testing.T) {
	reader, reqs, _, _, engineState := newTestReader(t)
	k := ScopedKey{Key: "version"}
	bs := NewBuildState(
		BuildStructure{Keys: []ScopedKey{k}},
		map[ScopedKey]KeyDefinition{k: {Kind: KeyKindSetting, Value: "1.0"}},
	)
	engineState.Publish(bs)

	ctx, cancel := context.WithCancel(context.Background())
	go reader.Run(ctx)
	defer cancel()

	c := NewClient("c1", 4, nil)
	reqs.Enqueue(ServerRequest{Client: c, Serial: 5, Request: KeyLookup{Text: "version"}})

	select {
	case reply := <-c.Replies():
		if reply.Serial != 5 {
			t.Fatalf("Serial = %d, want 5", reply.Serial)
		}
		resp, ok := reply.Response.(KeyLookupResponse)
		if !ok {
			t.Fatalf("Response = %T, want KeyLookupResponse", reply.Response)
		}
		if len(resp.Keys) != 1 || resp.Keys[0] != k {
			t.Fatalf("Keys = %v, want [%v]", resp.Keys, k)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for KeyLookupResponse")
	}
}

func TestReaderLoop_ListenToValueTaskSchedulesWork(t *testing.T) {
	reader, reqs, work, _, engineState := newTestReader(t)
	k := ScopedKey{Key: "compile"}
	bs := NewBuildState(
		BuildStructure{Keys: []ScopedKey{k}},
		map[ScopedKey]KeyDefinition{k: {Kind: KeyKindTask, Command: "go build"}},
	)
	engineState.Publish(bs)

	ctx, cancel := context.WithCancel(context.Background())
	go reader.Run(ctx)
	defer cancel()

	c := NewClient("c1", 4, nil)
	reqs.Enqueue(ServerRequest{Client: c, Serial: 1, Request: ListenToValue{Key: k}})

	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if work.Len() == 1 {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("expected the task to be scheduled onto the work queue")
}

func TestReaderLoop_ListenToValueUnknownKeyRepliesNotFound(t *testing.T) {
	reader, reqs, _, _, engineState := newTestReader(t)
	engineState.Publish(BuildState{})

	ctx, cancel := context.WithCancel(context.Background())
	go reader.Run(ctx)
	defer cancel()

	c := NewClient("c1", 4, nil)
	missing := ScopedKey{Key: "nope"}
	reqs.Enqueue(ServerRequest{Client: c, Serial: 2, Request: ListenToValue{Key: missing}})

	select {
	case reply := <-c.Replies():
		if _, ok := reply.Response.(KeyNotFoundResponse); !ok {
			t.Fatalf("Response = %T, want KeyNotFoundResponse", reply.Response)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for KeyNotFoundResponse")
	}
}

func TestReaderLoop_ExecutionRepliesWithWorkID(t *testing.T) {
	reader, reqs, _, _, engineState := newTestReader(t)
	engineState.Publish(BuildState{})

	ctx, cancel := context.WithCancel(context.Background())
	go reader.Run(ctx)
	defer cancel()

	c := NewClient("c1", 4, nil)
	reqs.Enqueue(ServerRequest{Client: c, Serial: 9, Request: Execution{Command: "test"}})

	select {
	case reply := <-c.Replies():
		resp, ok := reply.Response.(ExecutionRequestReceived)
		if !ok {
			t.Fatalf("Response = %T, want ExecutionRequestReceived", reply.Response)
		}
		if resp.ID == 0 {
			t.Fatal("expected a non-zero work id")
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for ExecutionRequestReceived")
	}
}

func TestReaderLoop_OnExecutionHookFires(t *testing.T) {
	reader, reqs, _, _, engineState := newTestReader(t)
	engineState.Publish(BuildState{})

	type call struct {
		id      uint64
		command string
	}
	calls := make(chan call, 1)
	reader.SetOnExecution(func(id uint64, command string) {
		calls <- call{id, command}
	})

	ctx, cancel := context.WithCancel(context.Background())
	go reader.Run(ctx)
	defer cancel()

	c := NewClient("c1", 4, nil)
	reqs.Enqueue(ServerRequest{Client: c, Serial: 1, Request: Execution{Command: "ci:owner/repo@abc build"}})

	select {
	case got := <-calls:
		if got.command != "ci:owner/repo@abc build" {
			t.Errorf("command = %q, want ci:owner/repo@abc build", got.command)
		}
		if got.id == 0 {
			t.Error("expected a non-zero work id")
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for onExecution hook")
	}
}

func TestReaderLoop_ClientClosedDisconnects(t *testing.T) {
	reader, reqs, _, serverState, engineState := newTestReader(t)
	engineState.Publish(BuildState{})

	ctx, cancel := context.WithCancel(context.Background())
	go reader.Run(ctx)
	defer cancel()

	c := NewClient("c1", 4, nil)
	reqs.Enqueue(ServerRequest{Client: c, Serial: 1, Request: ListenToEvents{}})
	<-c.Events() // wait for NowListening so registration has happened

	reqs.Enqueue(ServerRequest{Client: c, Serial: 2, Request: ClientClosed{}})

	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if len(serverState.Load().EventListeners()) == 0 {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("expected client to be removed from event listeners after ClientClosed")
}

func TestReaderLoop_BufferPreBuildRequestsUntilBoot(t *testing.T) {
	reqs := NewRequestQueue(16)
	work := NewWorkQueue(0, nil)
	serverState := NewServerStateRef()
	engineState := NewEngineStateRef()
	reader := NewReaderLoop(reqs, work, serverState, engineState, 8, nil)

	ctx, cancel := context.WithCancel(context.Background())
	go reader.Run(ctx)
	defer cancel()

	c := NewClient("c1", 4, nil)
	reqs.Enqueue(ServerRequest{Client: c, Serial: 1, Request: ListenToEvents{}})

	// Request should not be answered yet: no boot has happened.
	select {
	case ev := <-c.Events():
		t.Fatalf("unexpected event before boot: %v", ev)
	case <-time.After(100 * time.Millisecond):
	}

	engineState.Publish(BuildState{})

	select {
	case ev := <-c.Events():
		if _, ok := ev.(NowListening); !ok {
			t.Fatalf("event = %T, want NowListening", ev)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for deferred NowListening after boot")
	}
}

// TestReaderLoop_BootTimeDeferOrdersNowListeningFirst is scenario 1 from
// §8: a client sends KeyLookup before the build loads, then
// ListenToEvents. NowListening must arrive before KeyLookupResponse,
// because Phase 2 broadcasts to already-registered listeners before
// draining the deferred buffer.
func TestReaderLoop_BootTimeDeferOrdersNowListeningFirst(t *testing.T) {
	reader, reqs, _, _, engineState := newTestReader(t)

	ctx, cancel := context.WithCancel(context.Background())
	go reader.Run(ctx)
	defer cancel()

	c := NewClient("c1", 4, nil)
	reqs.Enqueue(ServerRequest{Client: c, Serial: 1, Request: KeyLookup{Text: "compile"}})
	reqs.Enqueue(ServerRequest{Client: c, Serial: 2, Request: ListenToEvents{}})

	// Neither request should be answered before boot.
	select {
	case ev := <-c.Events():
		t.Fatalf("unexpected event before boot: %v", ev)
	case reply := <-c.Replies():
		t.Fatalf("unexpected reply before boot: %v", reply)
	case <-time.After(100 * time.Millisecond):
	}

	k := ScopedKey{Key: "compile"}
	bs := NewBuildState(
		BuildStructure{Keys: []ScopedKey{k}},
		map[ScopedKey]KeyDefinition{k: {Kind: KeyKindSetting, Value: "ok"}},
	)
	engineState.Publish(bs)

	select {
	case ev := <-c.Events():
		if _, ok := ev.(NowListening); !ok {
			t.Fatalf("first event = %T, want NowListening", ev)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for NowListening")
	}

	select {
	case reply := <-c.Replies():
		if reply.Serial != 1 {
			t.Fatalf("Serial = %d, want 1", reply.Serial)
		}
		if _, ok := reply.Response.(KeyLookupResponse); !ok {
			t.Fatalf("Response = %T, want KeyLookupResponse", reply.Response)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for deferred KeyLookupResponse")
	}
}
