package presence

import (
	"context"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/Achen718/socket-chat-ui-sub000/internal/db"
	"github.com/Achen718/socket-chat-ui-sub000/internal/lifecycle"
	"github.com/Achen718/socket-chat-ui-sub000/internal/model"
)

type fakePresenceStore struct {
	mu          sync.Mutex
	transitions []string
	touches     int
	watchCalls  int
	unsubCalls  int
	snapshots   chan []model.PresenceRecord
}

func newFakePresenceStore() *fakePresenceStore {
	return &fakePresenceStore{snapshots: make(chan []model.PresenceRecord, 8)}
}

func (f *fakePresenceStore) WriteTransition(ctx context.Context, userID, state string, lastSeen time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.transitions = append(f.transitions, state)
	return nil
}

func (f *fakePresenceStore) TouchLastSeen(ctx context.Context, userID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.touches++
	return nil
}

func (f *fakePresenceStore) GetPresence(ctx context.Context, userID string) (*model.PresenceRecord, error) {
	return &model.PresenceRecord{UserID: userID, State: model.PresenceOffline}, nil
}

func (f *fakePresenceStore) WatchPresence(userID string) (<-chan []model.PresenceRecord, db.UnsubscribeFunc, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.watchCalls++
	return f.snapshots, func() {
		f.mu.Lock()
		f.unsubCalls++
		f.mu.Unlock()
	}, nil
}

func (f *fakePresenceStore) transitionLog() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.transitions))
	copy(out, f.transitions)
	return out
}

func TestUpdatePresence_RateLimitsIdenticalStates(t *testing.T) {
	store := newFakePresenceStore()
	e := newEngine("u1", store, zap.NewNop())

	now := time.Unix(1000, 0)
	e.now = func() time.Time { return now }

	e.UpdatePresence(model.PresenceOnline)
	now = now.Add(time.Second)
	e.UpdatePresence(model.PresenceOnline)

	if got := store.transitionLog(); len(got) != 1 {
		t.Fatalf("writes = %v, want exactly one online write", got)
	}

	// Offline always writes, regardless of timing.
	e.UpdatePresence(model.PresenceOffline)
	if got := store.transitionLog(); len(got) != 2 || got[1] != model.PresenceOffline {
		t.Fatalf("writes = %v, want trailing offline write", got)
	}
}

func TestUpdatePresence_StateChangeWithinCooldownWrites(t *testing.T) {
	store := newFakePresenceStore()
	e := newEngine("u1", store, zap.NewNop())

	now := time.Unix(1000, 0)
	e.now = func() time.Time { return now }

	e.UpdatePresence(model.PresenceOnline)
	now = now.Add(500 * time.Millisecond)
	e.UpdatePresence(model.PresenceAway)

	got := store.transitionLog()
	if len(got) != 2 || got[1] != model.PresenceAway {
		t.Fatalf("writes = %v, want online then away", got)
	}
}

func TestUpdatePresence_CooldownElapsedWritesAgain(t *testing.T) {
	store := newFakePresenceStore()
	e := newEngine("u1", store, zap.NewNop())

	now := time.Unix(1000, 0)
	e.now = func() time.Time { return now }

	e.UpdatePresence(model.PresenceOnline)
	now = now.Add(DefaultWriteCooldown + time.Millisecond)
	e.UpdatePresence(model.PresenceOnline)

	if got := store.transitionLog(); len(got) != 2 {
		t.Fatalf("writes = %v, want two online writes across cooldown", got)
	}
}

func TestInactivity_TransitionsToAway(t *testing.T) {
	store := newFakePresenceStore()
	e := newEngine("u1", store, zap.NewNop())
	e.inactivityTimeout = 20 * time.Millisecond

	e.UpdatePresence(model.PresenceOnline)
	e.resetInactivityTimer()

	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if e.State() == model.PresenceAway {
			e.Stop()
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("engine never transitioned to away")
}

func TestManagerSetup_Idempotent(t *testing.T) {
	store := newFakePresenceStore()
	registry := lifecycle.NewRegistry(zap.NewNop())
	m := NewManager(store, registry, zap.NewNop())

	e1 := m.Setup("u1")
	e2 := m.Setup("u1")

	if e1 != e2 {
		t.Fatal("Setup must return the same engine for the same user")
	}
	if got := store.transitionLog(); len(got) != 1 || got[0] != model.PresenceOnline {
		t.Fatalf("writes = %v, want a single initial online write", got)
	}

	m.Teardown("u1")
	got := store.transitionLog()
	if got[len(got)-1] != model.PresenceOffline {
		t.Fatalf("writes = %v, want trailing offline write after teardown", got)
	}
}

func TestWatcher_SharesOneUpstreamSubscription(t *testing.T) {
	store := newFakePresenceStore()
	w := NewWatcher(store, zap.NewNop())

	var mu sync.Mutex
	var got []string
	record := func(tag string) StatusCallback {
		return func(rec model.PresenceRecord) {
			mu.Lock()
			got = append(got, tag+":"+rec.State)
			mu.Unlock()
		}
	}

	unsub1, err := w.Subscribe("u1", record("a"))
	if err != nil {
		t.Fatal(err)
	}
	unsub2, err := w.Subscribe("u1", record("b"))
	if err != nil {
		t.Fatal(err)
	}

	if store.watchCalls != 1 {
		t.Fatalf("upstream subscriptions = %d, want 1", store.watchCalls)
	}

	store.snapshots <- []model.PresenceRecord{{UserID: "u1", State: model.PresenceOnline}}

	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		mu.Lock()
		n := len(got)
		mu.Unlock()
		if n == 2 {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}
	mu.Lock()
	if len(got) != 2 {
		mu.Unlock()
		t.Fatalf("callbacks fired %d times, want 2", len(got))
	}
	mu.Unlock()

	unsub1()
	if store.unsubCalls != 0 {
		t.Fatal("upstream must stay open while a subscriber remains")
	}

	unsub2()
	unsub2() // second invocation is a no-op
	if store.unsubCalls != 1 {
		t.Fatalf("upstream unsubscribed %d times, want 1", store.unsubCalls)
	}
}
