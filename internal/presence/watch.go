package presence

import (
	"sync"

	"go.uber.org/zap"

	"github.com/Achen718/socket-chat-ui-sub000/internal/db"
	"github.com/Achen718/socket-chat-ui-sub000/internal/model"
	"github.com/Achen718/socket-chat-ui-sub000/internal/repo"
)

// StatusCallback receives presence updates for a watched user.
type StatusCallback func(model.PresenceRecord)

// fanout multiplexes one upstream presence subscription to any number of
// in-memory subscribers. The upstream is opened by the first subscriber
// and torn down by the last detach.
type fanout struct {
	mu          sync.Mutex
	subscribers map[int]StatusCallback
	nextID      int
	unsubscribe db.UnsubscribeFunc
	last        *model.PresenceRecord
}

// Watcher deduplicates presence subscriptions per user id.
type Watcher struct {
	store  repo.PresenceRepository
	logger *zap.Logger

	mu       sync.Mutex
	watchers map[string]*fanout
}

func NewWatcher(store repo.PresenceRepository, logger *zap.Logger) *Watcher {
	return &Watcher{
		store:    store,
		logger:   logger,
		watchers: make(map[string]*fanout),
	}
}

// Subscribe attaches cb to userID's presence stream and returns the
// caller's unsubscribe, to be invoked exactly once. At most one remote
// subscription exists per user id regardless of subscriber count.
func (w *Watcher) Subscribe(userID string, cb StatusCallback) (func(), error) {
	w.mu.Lock()
	fo, ok := w.watchers[userID]
	if !ok {
		fo = &fanout{subscribers: make(map[int]StatusCallback)}
		w.watchers[userID] = fo
	}
	w.mu.Unlock()

	fo.mu.Lock()
	id := fo.nextID
	fo.nextID++
	fo.subscribers[id] = cb
	first := len(fo.subscribers) == 1
	if fo.last != nil {
		// Late joiners see the most recent state immediately.
		cb(*fo.last)
	}
	fo.mu.Unlock()

	if first {
		snapshots, unsub, err := w.store.WatchPresence(userID)
		if err != nil {
			fo.mu.Lock()
			delete(fo.subscribers, id)
			fo.mu.Unlock()
			return nil, err
		}

		fo.mu.Lock()
		fo.unsubscribe = unsub
		fo.mu.Unlock()

		go w.pump(userID, fo, snapshots)
		w.logger.Debug("presence subscription opened", zap.String("user_id", userID))
	}

	var once sync.Once
	return func() {
		once.Do(func() { w.detach(userID, fo, id) })
	}, nil
}

func (w *Watcher) pump(userID string, fo *fanout, snapshots <-chan []model.PresenceRecord) {
	for snap := range snapshots {
		if len(snap) == 0 {
			continue
		}
		rec := snap[len(snap)-1]

		fo.mu.Lock()
		fo.last = &rec
		cbs := make([]StatusCallback, 0, len(fo.subscribers))
		for _, cb := range fo.subscribers {
			cbs = append(cbs, cb)
		}
		fo.mu.Unlock()

		for _, cb := range cbs {
			cb(rec)
		}
	}
}

func (w *Watcher) detach(userID string, fo *fanout, id int) {
	fo.mu.Lock()
	delete(fo.subscribers, id)
	last := len(fo.subscribers) == 0
	unsub := fo.unsubscribe
	if last {
		fo.unsubscribe = nil
	}
	fo.mu.Unlock()

	if !last {
		return
	}

	w.mu.Lock()
	if current, ok := w.watchers[userID]; ok && current == fo {
		delete(w.watchers, userID)
	}
	w.mu.Unlock()

	if unsub != nil {
		unsub()
	}
	w.logger.Debug("presence subscription closed", zap.String("user_id", userID))
}
