package session

import (
	"fmt"
	"sync"
	"testing"
	"time"
)

func TestRegistryLifecycle(t *testing.T) {
	r := NewRegistry()

	info := &Info{ID: "s1", Protocol: ProtocolSMTP, RemoteAddr: "127.0.0.1:1234"}
	r.Add(info)

	if r.Len() != 1 {
		t.Fatalf("Len = %d, want 1", r.Len())
	}
	if info.CreatedAt.IsZero() || info.LastActivity.IsZero() {
		t.Error("Add did not stamp timestamps")
	}

	r.SetState("s1", StateAuthenticated)
	r.SetUser("s1", "alice")
	r.SetMailbox("s1", "INBOX")
	r.SetReverseDNS("s1", "client.example.com")

	snap := r.Snapshot()
	if len(snap) != 1 {
		t.Fatalf("Snapshot len = %d", len(snap))
	}
	got := snap[0]
	if got.State != StateAuthenticated || got.UserID != "alice" ||
		got.SelectedMailbox != "INBOX" || got.ReverseDNS != "client.example.com" {
		t.Errorf("Snapshot = %+v", got)
	}

	r.Remove("s1")
	if r.Len() != 0 {
		t.Errorf("Len after Remove = %d", r.Len())
	}
	// Idempotent for deferred cleanup.
	r.Remove("s1")
}

func TestRegistryTouch(t *testing.T) {
	r := NewRegistry()
	info := &Info{ID: "s1", Protocol: ProtocolIMAP}
	r.Add(info)

	before := info.LastActivity
	time.Sleep(5 * time.Millisecond)
	r.Touch("s1")

	if !r.Snapshot()[0].LastActivity.After(before) {
		t.Error("Touch did not advance LastActivity")
	}

	// Unknown ids are ignored.
	r.Touch("missing")
	r.SetState("missing", StateLogout)
}

func TestRegistryConcurrentAccess(t *testing.T) {
	r := NewRegistry()

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			id := fmt.Sprintf("s%d", n)
			r.Add(&Info{ID: id, Protocol: ProtocolSMTP})
			r.Touch(id)
			r.SetState(id, StateAuthenticated)
			_ = r.Snapshot()
			r.Remove(id)
		}(i)
	}
	wg.Wait()

	if r.Len() != 0 {
		t.Errorf("Len = %d after concurrent churn", r.Len())
	}
}

func TestStateString(t *testing.T) {
	tests := map[State]string{
		StateNotAuthenticated: "NOT_AUTHENTICATED",
		StateAuthenticated:    "AUTHENTICATED",
		StateSelected:         "SELECTED",
		StateLogout:           "LOGOUT",
	}
	for state, want := range tests {
		if state.String() != want {
			t.Errorf("State(%d).String() = %q, want %q", state, state.String(), want)
		}
	}
}
