package lifecycle

import (
	"testing"
	"time"

	"go.uber.org/zap"
)

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met before deadline")
}

func TestWatchdog_ForceClearsStuckFlag(t *testing.T) {
	w := NewWatchdog(zap.NewNop())
	w.SetTimeout(30 * time.Millisecond)

	w.SetLoading(true, "fetchMessages:c1")
	if !w.MessagesLoading() {
		t.Fatal("message loading flag should be set")
	}

	waitFor(t, time.Second, func() bool { return !w.MessagesLoading() })
}

func TestWatchdog_ClearCancelsTimer(t *testing.T) {
	w := NewWatchdog(zap.NewNop())
	w.SetTimeout(30 * time.Millisecond)

	w.SetLoading(true, "fetchConversations:u1")
	w.SetLoading(false, "fetchConversations:u1")

	if w.ConversationsLoading() {
		t.Fatal("flag should be cleared immediately")
	}

	// A new load after the clear must stay set past the old deadline.
	w.SetTimeout(time.Minute)
	w.SetLoading(true, "fetchConversations:u1")
	time.Sleep(60 * time.Millisecond)
	if !w.ConversationsLoading() {
		t.Fatal("stale timer fired against the new load")
	}
	w.Stop()
}

func TestWatchdog_RearmCancelsPriorTimer(t *testing.T) {
	w := NewWatchdog(zap.NewNop())
	w.SetTimeout(50 * time.Millisecond)

	w.SetLoading(true, "fetchMessages:c1")
	time.Sleep(30 * time.Millisecond)
	w.SetLoading(true, "fetchMessages:c1")
	time.Sleep(30 * time.Millisecond)

	// 60ms since the first arm but only 30ms since the re-arm.
	if !w.MessagesLoading() {
		t.Fatal("re-armed timer should not have fired yet")
	}
	w.Stop()
}

func TestWatchdog_ErrorReadableUntilNextLoad(t *testing.T) {
	w := NewWatchdog(zap.NewNop())

	w.SetError("fetchMessages:c1", "list messages failed")
	if got := w.MessagesError(); got != "list messages failed" {
		t.Fatalf("MessagesError = %q, want recorded error", got)
	}
	if got := w.ConversationsError(); got != "" {
		t.Fatalf("ConversationsError = %q, want empty", got)
	}

	// Starting a fresh load wipes the stale error for its track.
	w.SetLoading(true, "fetchMessages:c1")
	if got := w.MessagesError(); got != "" {
		t.Fatalf("MessagesError = %q after new load, want empty", got)
	}
	w.SetLoading(false, "fetchMessages:c1")
	w.Stop()
}

func TestWatchdog_TracksAreIndependent(t *testing.T) {
	w := NewWatchdog(zap.NewNop())

	w.SetLoading(true, "fetchConversations:u1")
	w.SetLoading(true, "fetchMessages:c1")
	w.SetLoading(false, "fetchConversations:u1")

	if w.ConversationsLoading() {
		t.Fatal("conversation flag should be clear")
	}
	if !w.MessagesLoading() {
		t.Fatal("message flag should remain set")
	}
	w.Stop()
}
