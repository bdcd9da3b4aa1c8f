package lifecycle

import (
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
)

// DefaultWatchdogTimeout bounds how long a loading flag may stay set
// without the matching completion call.
const DefaultWatchdogTimeout = 8 * time.Second

// Loading tracks, resolved from the source-name prefix.
const (
	trackConversations = "conversations"
	trackMessages      = "messages"
)

// Watchdog owns the conversation-list and message-list loading flags and
// force-clears a flag whose operation never completed. A remote call that
// hangs, or a resolution path skipped by a failure, would otherwise leave
// the UI spinning forever.
type Watchdog struct {
	mu      sync.Mutex
	loading map[string]bool          // track -> flag
	timers  map[string]*time.Timer   // source -> pending timer
	lastErr map[string]string        // track -> error text, cleared on new load
	timeout time.Duration
	logger  *zap.Logger
}

// NewWatchdog creates a watchdog with the default 8s bound.
func NewWatchdog(logger *zap.Logger) *Watchdog {
	return &Watchdog{
		loading: make(map[string]bool),
		timers:  make(map[string]*time.Timer),
		lastErr: make(map[string]string),
		timeout: DefaultWatchdogTimeout,
		logger:  logger,
	}
}

// SetTimeout overrides the watchdog bound. Intended for tests.
func (w *Watchdog) SetTimeout(d time.Duration) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.timeout = d
}

// SetLoading sets or clears the loading flag for the track resolved from
// source (e.g. "fetchMessages:c1" maps to the message-list flag). Setting
// arms a timer that force-clears the flag if it is still set when the
// timer fires; only one timer per source may be outstanding, a new one
// cancels the prior. Clearing cancels any pending timer for the source.
func (w *Watchdog) SetLoading(loading bool, source string) {
	track := resolveTrack(source)

	w.mu.Lock()
	defer w.mu.Unlock()

	if timer, ok := w.timers[source]; ok {
		timer.Stop()
		delete(w.timers, source)
	}

	if !loading {
		w.loading[track] = false
		return
	}

	w.loading[track] = true
	delete(w.lastErr, track)

	w.timers[source] = time.AfterFunc(w.timeout, func() {
		w.mu.Lock()
		defer w.mu.Unlock()

		delete(w.timers, source)
		if !w.loading[track] {
			return
		}
		w.loading[track] = false
		w.logger.Warn("loading flag force-cleared by watchdog",
			zap.String("source", source),
			zap.String("track", track),
			zap.Duration("timeout", w.timeout),
		)
	})
}

// SetError records an error for the track resolved from source.
func (w *Watchdog) SetError(source, message string) {
	track := resolveTrack(source)
	w.mu.Lock()
	defer w.mu.Unlock()
	w.lastErr[track] = message
}

// ConversationsLoading reports the conversation-list loading flag.
func (w *Watchdog) ConversationsLoading() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.loading[trackConversations]
}

// MessagesLoading reports the message-list loading flag.
func (w *Watchdog) MessagesLoading() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.loading[trackMessages]
}

// ConversationsError reports the last conversation-track error, or "" when
// the most recent load started clean.
func (w *Watchdog) ConversationsError() string {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.lastErr[trackConversations]
}

// MessagesError reports the last message-track error, or "" when the most
// recent load started clean.
func (w *Watchdog) MessagesError() string {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.lastErr[trackMessages]
}

// Stop cancels all pending timers.
func (w *Watchdog) Stop() {
	w.mu.Lock()
	defer w.mu.Unlock()
	for source, timer := range w.timers {
		timer.Stop()
		delete(w.timers, source)
	}
}

func resolveTrack(source string) string {
	if strings.HasPrefix(source, "fetchMessages") || strings.HasPrefix(source, "subscribeMessages") {
		return trackMessages
	}
	return trackConversations
}
