package hub

import (
	"context"
	"crypto/sha1"
	"encoding/binary"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/Achen718/socket-chat-ui-sub000/internal/event"
	"github.com/Achen718/socket-chat-ui-sub000/internal/model"
)

const (
	shardCount = 64 // tune: 16/64/128 depending on load
)

type inboundMessage struct {
	event  event.WsEvent
	client *Client
}

type clientBucket struct {
	sync.RWMutex
	rooms map[string]map[string]*Client
}

// MessageMarker records delivery/read state durably; the hub echoes the
// receipt to the room and persists through this hook.
type MessageMarker interface {
	MarkStatus(ctx context.Context, messageID, status string) error
}

// Hub fans WebSocket events out to conversation rooms. It also keeps a
// per-user connection index so presence echoes reach a user across all
// of their open conversations.
type Hub struct {
	shards     [shardCount]*clientBucket
	register   chan *Client
	unregister chan *Client
	inbound    chan inboundMessage

	onlineUsersMu sync.RWMutex
	onlineUsers   map[string]map[string]*Client // userID -> clientID -> client

	marker        MessageMarker
	onUserOffline func(userID string)
	logger        *zap.Logger

	wg     sync.WaitGroup
	ctx    context.Context
	cancel context.CancelFunc
}

func NewHub(marker MessageMarker, logger *zap.Logger) *Hub {
	ctx, cancel := context.WithCancel(context.Background())
	h := &Hub{
		register:    make(chan *Client, 1024),
		unregister:  make(chan *Client, 1024),
		inbound:     make(chan inboundMessage, 4096), // buffer for burst handling
		onlineUsers: make(map[string]map[string]*Client),
		marker:      marker,
		logger:      logger,
		ctx:         ctx,
		cancel:      cancel,
	}

	for i := 0; i < shardCount; i++ {
		h.shards[i] = &clientBucket{
			rooms: make(map[string]map[string]*Client),
		}
	}

	go h.run()

	for i := 0; i < workerPoolSize; i++ {
		h.wg.Add(1)
		go func() {
			defer h.wg.Done()
			for {
				select {
				case <-h.ctx.Done():
					return
				case in, ok := <-h.inbound:
					if !ok {
						return
					}
					h.handleEvent(in.event, in.client)
				}
			}
		}()
	}

	return h
}

func (h *Hub) handleEvent(ev event.WsEvent, c *Client) {
	switch ev.Event {
	case event.EventNewMessage:
		var msg event.NewMessage
		if err := json.Unmarshal(ev.Payload, &msg); err != nil {
			h.logger.Warn("malformed new_message payload",
				zap.String("client_id", c.ID), zap.Error(err))
			c.sendError("bad_payload", "malformed new_message payload")
			return
		}
		h.publishToRoom(ev, c.ConversationID, c.ID)

	case event.EventUserTyping, event.EventUserStopTyping:
		var ind model.TypingIndicator
		if err := json.Unmarshal(ev.Payload, &ind); err != nil {
			c.sendError("bad_payload", "malformed typing payload")
			return
		}
		h.publishToRoom(ev, c.ConversationID, c.ID)

	case event.EventMessageRead:
		var receipt model.MessageRead
		if len(ev.Payload) > 0 {
			if err := json.Unmarshal(ev.Payload, &receipt); err != nil {
				c.sendError("bad_payload", "malformed read receipt")
				return
			}
		}
		h.persistReceipt(ev, c, model.MessageStatusRead, receipt.MessageID)

	case event.EventMessageDelivered:
		var receipt model.MessageDelivered
		if len(ev.Payload) > 0 {
			if err := json.Unmarshal(ev.Payload, &receipt); err != nil {
				c.sendError("bad_payload", "malformed delivery receipt")
				return
			}
		}
		h.persistReceipt(ev, c, model.MessageStatusDelivered, receipt.MessageID)

	default:
		h.logger.Warn("unknown event type",
			zap.String("event", ev.Event), zap.String("client_id", c.ID))
		c.sendError("unknown_event", "unknown event type: "+ev.Event)
	}
}

// persistReceipt marks the message status in the store, then echoes the
// receipt to the room. A failed persist still echoes: the store
// subscription re-delivers the authoritative status later. The payload's
// message id wins; the envelope id is the fallback for thin clients.
func (h *Hub) persistReceipt(ev event.WsEvent, c *Client, status, messageID string) {
	if messageID == "" {
		messageID = ev.MessageID
	}
	if messageID != "" && h.marker != nil {
		ctx, cancel := context.WithTimeout(h.ctx, 5*time.Second)
		if err := h.marker.MarkStatus(ctx, messageID, status); err != nil {
			h.logger.Warn("receipt persist failed",
				zap.String("message_id", messageID),
				zap.String("status", status),
				zap.Error(err),
			)
		}
		cancel()
	}
	h.publishToRoom(ev, c.ConversationID, c.ID)
}

// publishToRoom delivers an event to every room member except the
// originator.
func (h *Hub) publishToRoom(ev event.WsEvent, conversationID, senderClientID string) {
	sh := getShard(conversationID)
	b := h.shards[sh]

	b.RLock()
	room, ok := b.rooms[conversationID]
	if !ok || len(room) == 0 {
		b.RUnlock()
		return
	}

	clients := make([]*Client, 0, len(room))
	for id, c := range room {
		if id == senderClientID {
			continue
		}
		clients = append(clients, c)
	}
	b.RUnlock()

	for _, c := range clients {
		select {
		case c.egress <- ev:
			// enqueued
		case <-time.After(sendTimeout):
			h.logger.Warn("egress full",
				zap.String("client_id", c.ID),
				zap.String("conversation_id", conversationID),
			)
			if kickOnFull {
				h.unregister <- c
			}
		}
	}
}

// PublishEvent delivers a server-originated event to every member of a
// conversation room.
func (h *Hub) PublishEvent(ev event.WsEvent, conversationID string) {
	h.publishToRoom(ev, conversationID, "")
}

// OnUserDisconnect registers the hook invoked after a user's last
// connection is removed. Call before serving.
func (h *Hub) OnUserDisconnect(fn func(userID string)) {
	h.onUserOffline = fn
}

// PublishPresence echoes a presence transition to every connection every
// online user holds.
func (h *Hub) PublishPresence(update model.PresenceUpdate) {
	name := event.EventUserOnline
	if update.State == model.PresenceOffline {
		name = event.EventUserOffline
	}

	payload, err := json.Marshal(update)
	if err != nil {
		return
	}
	ev := event.WsEvent{Event: name, Payload: payload}

	h.onlineUsersMu.RLock()
	clients := make([]*Client, 0, len(h.onlineUsers))
	for _, conns := range h.onlineUsers {
		for _, c := range conns {
			clients = append(clients, c)
		}
	}
	h.onlineUsersMu.RUnlock()

	for _, c := range clients {
		c.SafeSend(ev, sendTimeout)
	}
}

func getShard(conversationID string) uint32 {
	if conversationID == "" {
		return 0
	}
	h := sha1.Sum([]byte(conversationID))
	return binary.BigEndian.Uint32(h[:4]) % shardCount
}

func (h *Hub) addClient(c *Client) {
	sh := getShard(c.ConversationID)
	b := h.shards[sh]
	b.Lock()
	room, ok := b.rooms[c.ConversationID]
	if !ok {
		room = make(map[string]*Client)
		b.rooms[c.ConversationID] = room
	}
	room[c.ID] = c
	b.Unlock()

	h.onlineUsersMu.Lock()
	conns, ok := h.onlineUsers[c.userID]
	if !ok {
		conns = make(map[string]*Client)
		h.onlineUsers[c.userID] = conns
	}
	first := len(conns) == 0
	conns[c.ID] = c
	h.onlineUsersMu.Unlock()

	if ack, err := json.Marshal(event.ConnectionPayload{UserID: c.userID, ClientID: c.ID}); err == nil {
		c.SafeSend(event.WsEvent{
			Event:          event.EventConnect,
			ConversationID: c.ConversationID,
			Payload:        ack,
		}, sendTimeout)
	}

	if first {
		h.PublishPresence(model.PresenceUpdate{
			UserID:   c.userID,
			State:    model.PresenceOnline,
			LastSeen: time.Now().UnixMilli(),
		})
	}

	h.logger.Info("client registered",
		zap.String("client_id", c.ID),
		zap.String("user_id", c.userID),
		zap.String("conversation_id", c.ConversationID),
		zap.Uint32("shard", sh),
	)
}

func (h *Hub) removeClient(c *Client) {
	sh := getShard(c.ConversationID)
	b := h.shards[sh]
	b.Lock()
	if room, ok := b.rooms[c.ConversationID]; ok {
		delete(room, c.ID)
		if len(room) == 0 {
			delete(b.rooms, c.ConversationID)
		}
	}
	b.Unlock()

	h.onlineUsersMu.Lock()
	last := false
	if conns, ok := h.onlineUsers[c.userID]; ok {
		delete(conns, c.ID)
		if len(conns) == 0 {
			delete(h.onlineUsers, c.userID)
			last = true
		}
	}
	h.onlineUsersMu.Unlock()

	c.Close()

	if payload, err := json.Marshal(event.ConnectionPayload{UserID: c.userID, ClientID: c.ID}); err == nil {
		h.publishToRoom(event.WsEvent{
			Event:          event.EventDisconnect,
			ConversationID: c.ConversationID,
			Payload:        payload,
		}, c.ConversationID, c.ID)
	}

	if last {
		h.PublishPresence(model.PresenceUpdate{
			UserID:   c.userID,
			State:    model.PresenceOffline,
			LastSeen: time.Now().UnixMilli(),
		})
		// Session teardown blocks on subscription shutdown, so it must
		// not run on the hub loop.
		if h.onUserOffline != nil {
			go h.onUserOffline(c.userID)
		}
	}

	h.logger.Info("client removed",
		zap.String("client_id", c.ID),
		zap.String("user_id", c.userID),
		zap.String("conversation_id", c.ConversationID),
	)
}

func (h *Hub) Stop() {
	h.cancel()

	for _, shard := range h.shards {
		shard.RLock()
		for _, room := range shard.rooms {
			for _, client := range room {
				client.Close()
			}
		}
		shard.RUnlock()
	}

	close(h.inbound)
	h.wg.Wait()
}

func (h *Hub) run() {
	for {
		select {
		case <-h.ctx.Done():
			return
		case c := <-h.register:
			h.addClient(c)
		case c := <-h.unregister:
			h.removeClient(c)
		}
	}
}

var websocketUpgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     checkOrigin,
}

var allowedOrigins = map[string]bool{
	"http://localhost:3000": true,
	"http://localhost:5173": true,
}

// SetAllowedOrigins replaces the origin whitelist. Call before serving.
func SetAllowedOrigins(origins []string) {
	m := make(map[string]bool, len(origins))
	for _, o := range origins {
		m[o] = true
	}
	allowedOrigins = m
}

func checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	return allowedOrigins[origin]
}

func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request, userID, conversationID string) {
	conn, err := websocketUpgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", zap.Error(err))
		return
	}

	RegisterClient(userID, conversationID, conn, h)
}
