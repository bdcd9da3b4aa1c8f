package faults

import (
	"sync"
	"time"

	"go.uber.org/zap"
)

// Error categories.
const (
	CategoryConfig    = "config"    // missing credentials, never retried
	CategoryTransient = "transient" // permission/not-found on young collections, treated as empty
	CategoryTimeout   = "timeout"   // bounded window elapsed, resolved to empty
	CategoryModel     = "model"     // text-generation call failure
	CategoryUnknown   = "unknown"
)

// maxRecords bounds the in-memory error log.
const maxRecords = 50

// Record is a structured capture of an unexpected failure.
type Record struct {
	Message   string    `json:"message"`
	Category  string    `json:"category"`
	Timestamp time.Time `json:"timestamp"`
	Context   string    `json:"context"`
}

// Log is a bounded append-only error log shared between the synchronous UI
// feedback path and the async telemetry path, so each failure is observed
// exactly once by both.
type Log struct {
	mu      sync.Mutex
	records []Record
	logger  *zap.Logger
}

func NewLog(logger *zap.Logger) *Log {
	return &Log{logger: logger}
}

// Append records the failure and logs it. When the log is full the oldest
// record is dropped.
func (l *Log) Append(category, context string, err error) {
	if err == nil {
		return
	}

	rec := Record{
		Message:   err.Error(),
		Category:  category,
		Timestamp: time.Now(),
		Context:   context,
	}

	l.mu.Lock()
	l.records = append(l.records, rec)
	if len(l.records) > maxRecords {
		l.records = l.records[len(l.records)-maxRecords:]
	}
	l.mu.Unlock()

	l.logger.Error("failure recorded",
		zap.String("category", category),
		zap.String("context", context),
		zap.Error(err),
	)
}

// Snapshot returns a copy of the current records, oldest first.
func (l *Log) Snapshot() []Record {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]Record, len(l.records))
	copy(out, l.records)
	return out
}

// Len returns the number of retained records.
func (l *Log) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.records)
}
