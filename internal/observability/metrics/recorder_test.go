package metrics

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

// TestRecorder captures recorded metrics for verification in tests.
type TestRecorder struct {
	mu         sync.RWMutex
	operations map[string]map[string]int
	durations  map[string][]float64
	errors     map[string]map[string]int
}

func NewTestRecorder() *TestRecorder {
	return &TestRecorder{
		operations: make(map[string]map[string]int),
		durations:  make(map[string][]float64),
		errors:     make(map[string]map[string]int),
	}
}

func (r *TestRecorder) RecordOperation(operation, status string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.operations[operation] == nil {
		r.operations[operation] = make(map[string]int)
	}
	r.operations[operation][status]++
}

func (r *TestRecorder) RecordDuration(operation string, seconds float64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.durations[operation] = append(r.durations[operation], seconds)
}

func (r *TestRecorder) RecordError(operation, errorType string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.errors[operation] == nil {
		r.errors[operation] = make(map[string]int)
	}
	r.errors[operation][errorType]++
}

func (r *TestRecorder) GetOperationCount(operation, status string) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.operations[operation][status]
}

func TestRecorderImplementations(t *testing.T) {
	t.Parallel()

	var _ Recorder = (*NoOpRecorder)(nil)
	var _ Recorder = (*TestRecorder)(nil)
	var _ Recorder = (*ArtworkMetrics)(nil)
	var _ Recorder = (*DatastoreMetrics)(nil)
}

func TestTestRecorder_Concurrent(t *testing.T) {
	t.Parallel()

	r := NewTestRecorder()
	var wg sync.WaitGroup
	for range 20 {
		wg.Go(func() {
			r.RecordOperation(OpFetch, StatusSuccess)
			r.RecordDuration(OpFetch, 0.1)
			r.RecordError(OpFetch, "transient")
		})
	}
	wg.Wait()

	assert.Equal(t, 20, r.GetOperationCount(OpFetch, StatusSuccess))
	assert.Len(t, r.durations[OpFetch], 20)
	assert.Equal(t, 20, r.errors[OpFetch]["transient"])
}

func TestNoOpRecorder(t *testing.T) {
	t.Parallel()

	r := NewNoOpRecorder()
	assert.NotPanics(t, func() {
		r.RecordOperation(OpStore, StatusSuccess)
		r.RecordDuration(OpStore, 1)
		r.RecordError(OpStore, "io")
	})
}
