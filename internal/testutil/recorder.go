package testutil

import (
	"fmt"
	"sync"
	"time"

	"drive-go/internal/drive"
)

// CountingRecorder counts every measurement by a "kind:op[:detail]" key.
type CountingRecorder struct {
	mu     sync.Mutex
	counts map[string]int
}

func NewCountingRecorder() *CountingRecorder {
	return &CountingRecorder{counts: make(map[string]int)}
}

func (r *CountingRecorder) inc(key string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.counts[key]++
}

// Count returns the number of measurements recorded under key.
func (r *CountingRecorder) Count(key string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.counts[key]
}

func (r *CountingRecorder) ObserveOperation(op, outcome string, _ time.Duration) {
	r.inc(fmt.Sprintf("operation:%s:%s", op, outcome))
}

func (r *CountingRecorder) Rollback(op string, succeeded bool) {
	r.inc(fmt.Sprintf("rollback:%s:%t", op, succeeded))
}

func (r *CountingRecorder) OrphanedBytes(op string) {
	r.inc("orphaned:" + op)
}

func (r *CountingRecorder) Inconsistency(op string) {
	r.inc("inconsistency:" + op)
}

func (r *CountingRecorder) ThumbnailFailure() {
	r.inc("thumbnail_failure")
}

var _ drive.Recorder = (*CountingRecorder)(nil)
