package dispatch

import (
	"context"
	"errors"
	"testing"
	"time"
)

type fakeEngine struct {
	bootErr   error
	bootState BuildState
	execFunc  func(ctx context.Context, command string, bs BuildState) (BuildState, error)
}

func (f *fakeEngine) Boot(ctx context.Context) (BuildState, error) {
	return f.bootState, f.bootErr
}

func (f *fakeEngine) Execute(ctx context.Context, command string, bs BuildState) (BuildState, error) {
	if f.execFunc != nil {
		return f.execFunc(ctx, command, bs)
	}
	return bs, nil
}

func TestEngineLoop_RunPublishesBootState(t *testing.T) {
	k := ScopedKey{Key: "a"}
	bs := NewBuildState(
		BuildStructure{Keys: []ScopedKey{k}},
		map[ScopedKey]KeyDefinition{k: {Kind: KeyKindSetting, Value: "1"}},
	)
	eng := &fakeEngine{bootState: bs}
	work := NewWorkQueue(0, nil)
	engineState := NewEngineStateRef()
	serverState := NewServerStateRef()
	loop := NewEngineLoop(eng, work, engineState, serverState, nil)

	stop := make(chan struct{})
	done := make(chan error, 1)
	go func() { done <- loop.Run(context.Background(), stop) }()

	// give Run a moment to boot and publish before shutting it down
	time.Sleep(20 * time.Millisecond)
	snap, ok := engineState.Load()
	if !ok {
		t.Fatal("expected BuildState to be published after boot")
	}
	if !snap.BuildState.Structure.Equal(bs.Structure) {
		t.Fatal("published BuildState does not match boot result")
	}

	work.PostEndOfWork()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Run returned error: %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Run did not return after EndOfWork")
	}
}

func TestEngineLoop_RunReturnsErrorOnBootFailure(t *testing.T) {
	eng := &fakeEngine{bootErr: errors.New("boot broke")}
	work := NewWorkQueue(0, nil)
	loop := NewEngineLoop(eng, work, NewEngineStateRef(), NewServerStateRef(), nil)

	stop := make(chan struct{})
	err := loop.Run(context.Background(), stop)
	if err == nil {
		t.Fatal("expected an error from Run when Boot fails")
	}
}

func TestEngineLoop_NotifiesRequestersOnSuccess(t *testing.T) {
	eng := &fakeEngine{}
	work := NewWorkQueue(0, nil)
	engineState := NewEngineStateRef()
	serverState := NewServerStateRef()
	loop := NewEngineLoop(eng, work, engineState, serverState, nil)

	c := NewClient("c1", 4, nil)
	work.Enqueue("build", c)

	stop := make(chan struct{})
	done := make(chan error, 1)
	go func() { done <- loop.Run(context.Background(), stop) }()

	select {
	case ev := <-c.Events():
		if _, ok := ev.(ExecutionSuccess); !ok {
			t.Fatalf("event = %T, want ExecutionSuccess", ev)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for ExecutionSuccess")
	}

	work.PostEndOfWork()
	<-done
}

func TestEngineLoop_NotifiesRequestersOnFailure(t *testing.T) {
	eng := &fakeEngine{execFunc: func(ctx context.Context, command string, bs BuildState) (BuildState, error) {
		return bs, errors.New("build failed")
	}}
	work := NewWorkQueue(0, nil)
	engineState := NewEngineStateRef()
	serverState := NewServerStateRef()
	loop := NewEngineLoop(eng, work, engineState, serverState, nil)

	c := NewClient("c1", 4, nil)
	work.Enqueue("build", c)

	stop := make(chan struct{})
	done := make(chan error, 1)
	go func() { done <- loop.Run(context.Background(), stop) }()

	select {
	case ev := <-c.Events():
		if _, ok := ev.(ExecutionFailure); !ok {
			t.Fatalf("event = %T, want ExecutionFailure", ev)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for ExecutionFailure")
	}

	work.PostEndOfWork()
	<-done
}
