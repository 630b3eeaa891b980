package publisher

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	id "mismobridge/pkg/domain"
	audit "mismobridge/pkg/platform/audit"
	"mismobridge/pkg/platform/audit/store/memory"
)

func TestPublisher_SyncMode(t *testing.T) {
	store := memory.NewInMemoryStore()
	pub := NewPublisher(store)
	defer pub.Close()

	runID := id.NewRunID()
	err := pub.Emit(context.Background(), audit.Event{
		RunID:  runID,
		Action: string(audit.EventExportCompleted),
	})
	require.NoError(t, err)

	events, err := pub.List(context.Background(), runID)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, string(audit.EventExportCompleted), events[0].Action)
	assert.Equal(t, audit.CategoryCompliance, events[0].Category)
}

func TestPublisher_AsyncMode(t *testing.T) {
	store := memory.NewInMemoryStore()
	pub := NewPublisher(store, WithAsyncBuffer(10))
	defer pub.Close()

	runID := id.NewRunID()
	err := pub.Emit(context.Background(), audit.Event{
		RunID:  runID,
		Action: string(audit.EventValidationCompleted),
	})
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		events, err := pub.List(context.Background(), runID)
		return err == nil && len(events) == 1
	}, time.Second, 10*time.Millisecond)

	events, err := pub.List(context.Background(), runID)
	require.NoError(t, err)
	assert.Equal(t, audit.CategoryOperations, events[0].Category)
}

func TestPublisher_AsyncDrainsOnClose(t *testing.T) {
	store := memory.NewInMemoryStore()
	pub := NewPublisher(store, WithAsyncBuffer(100))

	runID := id.NewRunID()
	for range 10 {
		err := pub.Emit(context.Background(), audit.Event{
			RunID:  runID,
			Action: string(audit.EventImportCompleted),
		})
		require.NoError(t, err)
	}

	pub.Close()

	events, err := store.ListByRun(context.Background(), runID)
	require.NoError(t, err)
	assert.Len(t, events, 10, "all events should be drained on close")
}

func TestPublisher_EmitAfterClose(t *testing.T) {
	pub := NewPublisher(memory.NewInMemoryStore(), WithAsyncBuffer(1))
	pub.Close()
	pub.Close()

	err := pub.Emit(context.Background(), audit.Event{RunID: id.NewRunID(), Action: string(audit.EventExportCompleted)})
	assert.ErrorIs(t, err, ErrClosed)
}

func TestPublisher_BufferFull_DropsEvent(t *testing.T) {
	store := memory.NewInMemoryStore()
	pub := NewPublisher(store, WithAsyncBuffer(1))
	defer pub.Close()

	runID := id.NewRunID()
	var wg sync.WaitGroup
	for range 10 {
		wg.Go(func() {
			err := pub.Emit(context.Background(), audit.Event{
				RunID:  runID,
				Action: string(audit.EventImportCompleted),
			})
			if err != nil {
				assert.ErrorIs(t, err, ErrBufferFull)
			}
		})
	}
	wg.Wait()
}

func TestPublisher_SetsTimestamp(t *testing.T) {
	store := memory.NewInMemoryStore()
	pub := NewPublisher(store)
	defer pub.Close()

	runID := id.NewRunID()
	before := time.Now()
	err := pub.Emit(context.Background(), audit.Event{RunID: runID, Action: string(audit.EventExportCompleted)})
	require.NoError(t, err)
	after := time.Now()

	events, err := pub.List(context.Background(), runID)
	require.NoError(t, err)
	require.Len(t, events, 1)

	assert.False(t, events[0].Timestamp.Before(before), "timestamp should be >= before")
	assert.False(t, events[0].Timestamp.After(after), "timestamp should be <= after")
}

func TestPublisher_PreservesExistingTimestamp(t *testing.T) {
	store := memory.NewInMemoryStore()
	pub := NewPublisher(store)
	defer pub.Close()

	runID := id.NewRunID()
	customTime := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	err := pub.Emit(context.Background(), audit.Event{
		RunID:     runID,
		Action:    string(audit.EventExportCompleted),
		Timestamp: customTime,
	})
	require.NoError(t, err)

	events, err := pub.List(context.Background(), runID)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, customTime, events[0].Timestamp)
}

func TestPublisher_ContextCancellation(t *testing.T) {
	pub := NewPublisher(memory.NewInMemoryStore(), WithAsyncBuffer(1))
	defer pub.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := pub.Emit(ctx, audit.Event{RunID: id.NewRunID(), Action: string(audit.EventExportCompleted)})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestPublisher_MultipleEvents(t *testing.T) {
	store := memory.NewInMemoryStore()
	pub := NewPublisher(store)
	defer pub.Close()

	runID := id.NewRunID()
	actions := []audit.AuditEvent{
		audit.EventPreflightCompleted,
		audit.EventExportCompleted,
		audit.EventValidationCompleted,
	}
	for _, action := range actions {
		require.NoError(t, pub.Emit(context.Background(), audit.Event{RunID: runID, Action: string(action)}))
	}

	result, err := pub.List(context.Background(), runID)
	require.NoError(t, err)
	require.Len(t, result, 3)
	for i, action := range actions {
		assert.Equal(t, string(action), result[i].Action)
	}
}

func TestPublisher_DifferentRuns(t *testing.T) {
	store := memory.NewInMemoryStore()
	pub := NewPublisher(store)
	defer pub.Close()

	run1 := id.NewRunID()
	run2 := id.NewRunID()
	require.NoError(t, pub.Emit(context.Background(), audit.Event{RunID: run1, Action: string(audit.EventExportCompleted)}))
	require.NoError(t, pub.Emit(context.Background(), audit.Event{RunID: run2, Action: string(audit.EventImportQuarantined)}))

	events1, err := pub.List(context.Background(), run1)
	require.NoError(t, err)
	require.Len(t, events1, 1)
	assert.Equal(t, string(audit.EventExportCompleted), events1[0].Action)

	events2, err := pub.List(context.Background(), run2)
	require.NoError(t, err)
	require.Len(t, events2, 1)
	assert.Equal(t, string(audit.EventImportQuarantined), events2[0].Action)
}

type failingStore struct {
	calls int
}

func (s *failingStore) Append(context.Context, audit.Event) error {
	s.calls++
	return errors.New("sink down")
}

func TestPublisher_CircuitBreakerStopsCallingSink(t *testing.T) {
	store := &failingStore{}
	metrics := NewMetrics(prometheus.NewRegistry())
	pub := NewPublisher(store,
		WithCircuitBreaker(NewCircuitBreaker(2, time.Hour)),
		WithMetrics(metrics),
	)
	defer pub.Close()

	for range 5 {
		_ = pub.Emit(context.Background(), audit.Event{RunID: id.NewRunID(), Action: string(audit.EventExportCompleted)})
	}

	assert.Equal(t, 2, store.calls)
	assert.Equal(t, float64(2), testutil.ToFloat64(metrics.PersistFailures))
	assert.Equal(t, float64(3), testutil.ToFloat64(metrics.CircuitBreakerDropped))
	assert.Equal(t, float64(1), testutil.ToFloat64(metrics.CircuitBreakerState))

	_, err := pub.List(context.Background(), id.NewRunID())
	assert.ErrorIs(t, err, ErrNotListable)
}

func TestCircuitBreaker_HalfOpenAfterCooldown(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	cb := NewCircuitBreaker(2, time.Minute)
	cb.now = func() time.Time { return now }

	cb.RecordFailure()
	assert.True(t, cb.RecordFailure())
	assert.False(t, cb.Allow())

	now = now.Add(2 * time.Minute)
	require.True(t, cb.Allow(), "expired circuit lets one probe through")
	assert.True(t, cb.RecordFailure(), "a failed probe reopens immediately")

	now = now.Add(2 * time.Minute)
	require.True(t, cb.Allow())
	cb.RecordSuccess()
	assert.False(t, cb.IsOpen())
}
