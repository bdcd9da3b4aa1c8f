package hub

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/Achen718/socket-chat-ui-sub000/internal/event"
	"github.com/Achen718/socket-chat-ui-sub000/internal/lifecycle"
	"github.com/Achen718/socket-chat-ui-sub000/internal/model"
)

type fakeMarker struct {
	mu     sync.Mutex
	marked map[string]string
}

func (f *fakeMarker) MarkStatus(ctx context.Context, messageID, status string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.marked == nil {
		f.marked = make(map[string]string)
	}
	f.marked[messageID] = status
	return nil
}

func (f *fakeMarker) statusOf(messageID string) string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.marked[messageID]
}

// newTestClient builds a client without a live connection. connClosed is
// pre-closed so Close never reaches for the missing conn.
func newTestClient(userID, conversationID string, h *Hub) *Client {
	ctx, cancel := context.WithCancel(context.Background())
	c := &Client{
		ID:             uuid.New().String(),
		userID:         userID,
		ConversationID: conversationID,
		manager:        h,
		egress:         make(chan event.WsEvent, sendBufSize),
		logger:         h.logger,
		cancel:         cancel,
		ctx:            ctx,
		connClosed:     make(chan struct{}),
	}
	c.connClosedOnce.Do(func() { close(c.connClosed) })
	return c
}

// drainFor pulls queued events until one matches the wanted name or the
// deadline passes.
func drainFor(t *testing.T, c *Client, name string, timeout time.Duration) (event.WsEvent, bool) {
	t.Helper()
	deadline := time.After(timeout)
	for {
		select {
		case ev := <-c.egress:
			if ev.Event == name {
				return ev, true
			}
		case <-deadline:
			return event.WsEvent{}, false
		}
	}
}

func TestRemoveClient_LastConnectionRunsDisconnectHook(t *testing.T) {
	h := NewHub(&fakeMarker{}, zap.NewNop())
	defer h.Stop()

	var mu sync.Mutex
	var gone []string
	h.OnUserDisconnect(func(userID string) {
		mu.Lock()
		gone = append(gone, userID)
		mu.Unlock()
	})

	a := newTestClient("u1", "c1", h)
	b := newTestClient("u1", "c1", h)
	h.addClient(a)
	h.addClient(b)

	h.removeClient(a)
	time.Sleep(50 * time.Millisecond)
	mu.Lock()
	early := len(gone)
	mu.Unlock()
	if early != 0 {
		t.Fatalf("hook ran %d times while a connection remained", early)
	}

	h.removeClient(b)
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		mu.Lock()
		n := len(gone)
		mu.Unlock()
		if n > 0 {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}

	mu.Lock()
	defer mu.Unlock()
	if len(gone) != 1 || gone[0] != "u1" {
		t.Fatalf("hook calls = %v, want exactly one for u1", gone)
	}
}

func TestAddClient_SendsConnectAck(t *testing.T) {
	h := NewHub(&fakeMarker{}, zap.NewNop())
	defer h.Stop()

	c := newTestClient("u1", "c1", h)
	h.addClient(c)

	ev, ok := drainFor(t, c, event.EventConnect, time.Second)
	if !ok {
		t.Fatal("no connect acknowledgement queued")
	}
	var ack event.ConnectionPayload
	if err := json.Unmarshal(ev.Payload, &ack); err != nil {
		t.Fatal(err)
	}
	if ack.UserID != "u1" || ack.ClientID != c.ID {
		t.Fatalf("ack = %+v, want user u1 / client %s", ack, c.ID)
	}
}

func TestRemoveClient_NotifiesRoom(t *testing.T) {
	h := NewHub(&fakeMarker{}, zap.NewNop())
	defer h.Stop()

	stay := newTestClient("u1", "c1", h)
	leave := newTestClient("u2", "c1", h)
	h.addClient(stay)
	h.addClient(leave)

	h.removeClient(leave)

	ev, ok := drainFor(t, stay, event.EventDisconnect, time.Second)
	if !ok {
		t.Fatal("remaining room member saw no disconnect notice")
	}
	var gone event.ConnectionPayload
	if err := json.Unmarshal(ev.Payload, &gone); err != nil {
		t.Fatal(err)
	}
	if gone.UserID != "u2" {
		t.Fatalf("disconnect notice for %q, want u2", gone.UserID)
	}
}

func TestReceipt_PersistsPayloadMessageID(t *testing.T) {
	marker := &fakeMarker{}
	h := NewHub(marker, zap.NewNop())
	defer h.Stop()

	sender := newTestClient("u1", "c1", h)
	peer := newTestClient("u2", "c1", h)
	h.addClient(sender)
	h.addClient(peer)

	payload, err := json.Marshal(model.MessageRead{
		MessageID:      "m42",
		ConversationID: "c1",
		ReadBy:         "u1",
	})
	if err != nil {
		t.Fatal(err)
	}
	h.handleEvent(event.WsEvent{Event: event.EventMessageRead, Payload: payload}, sender)

	if got := marker.statusOf("m42"); got != model.MessageStatusRead {
		t.Fatalf("persisted status = %q, want %q", got, model.MessageStatusRead)
	}
	if _, ok := drainFor(t, peer, event.EventMessageRead, time.Second); !ok {
		t.Fatal("receipt was not echoed to the room")
	}
}

func TestReceipt_EnvelopeIDFallback(t *testing.T) {
	marker := &fakeMarker{}
	h := NewHub(marker, zap.NewNop())
	defer h.Stop()

	sender := newTestClient("u1", "c1", h)
	h.addClient(sender)

	h.handleEvent(event.WsEvent{
		Event:     event.EventMessageDelivered,
		MessageID: "m7",
	}, sender)

	if got := marker.statusOf("m7"); got != model.MessageStatusDelivered {
		t.Fatalf("persisted status = %q, want %q", got, model.MessageStatusDelivered)
	}
}

func TestMonitor_ReportsSyncStats(t *testing.T) {
	h := NewHub(&fakeMarker{}, zap.NewNop())
	defer h.Stop()

	dog := lifecycle.NewWatchdog(zap.NewNop())
	dog.SetError("fetchConversations:u1", "list failed")
	dog.SetLoading(true, "fetchMessages:c1")
	defer dog.Stop()

	stats := NewMonitorService(h, dog).GetStats()
	if stats.Sync.ConversationsError != "list failed" {
		t.Fatalf("ConversationsError = %q, want recorded error", stats.Sync.ConversationsError)
	}
	if !stats.Sync.MessagesLoading {
		t.Fatal("MessagesLoading should be set")
	}
}
