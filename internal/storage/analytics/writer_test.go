package analytics

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/catstream/edge-metrics-go/internal/events"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

// memoryStore 记录写入的数据点
type memoryStore struct {
	mu     sync.Mutex
	points []events.DataPoint
	err    error
	calls  int
}

func (m *memoryStore) InsertBatch(_ context.Context, points []events.DataPoint) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++
	if m.err != nil {
		return m.err
	}
	m.points = append(m.points, points...)
	return nil
}

func (m *memoryStore) Query(context.Context, Query) ([]events.RawRecord, error) { return nil, nil }
func (m *memoryStore) Cleanup(context.Context, time.Time) (int64, error)      { return 0, nil }
func (m *memoryStore) Ping(context.Context) error                             { return nil }
func (m *memoryStore) Close() error                                           { return nil }

func (m *memoryStore) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.points)
}

func TestWriterFlushesOnClose(t *testing.T) {
	defer goleak.VerifyNone(t)

	store := &memoryStore{}
	w := NewWriter(store, 100, time.Hour)
	for i := 0; i < 5; i++ {
		w.Write(events.Redirect{Envelope: events.Envelope{Timestamp: baseTime}, Slug: "gh", ClickCount: 1})
	}
	assert.Equal(t, 0, store.count(), "below buffer size nothing is written yet")

	require.NoError(t, w.Close(context.Background()))
	assert.Equal(t, 5, store.count())

	// 关闭后写入被丢弃且不 panic
	w.Write(events.AI{Operation: "late"})
	require.NoError(t, w.Close(context.Background()))
	assert.Equal(t, 5, store.count())
}

func TestWriterFlushesWhenBufferFull(t *testing.T) {
	defer goleak.VerifyNone(t)

	store := &memoryStore{}
	w := NewWriter(store, 3, time.Hour)
	for i := 0; i < 3; i++ {
		w.Write(events.AI{Envelope: events.Envelope{Timestamp: baseTime}, Operation: "text"})
	}

	assert.Eventually(t, func() bool { return store.count() == 3 }, time.Second, 10*time.Millisecond)
	require.NoError(t, w.Close(context.Background()))
}

func TestWriterFlushesOnInterval(t *testing.T) {
	defer goleak.VerifyNone(t)

	store := &memoryStore{}
	w := NewWriter(store, 100, 20*time.Millisecond)
	w.Write(events.Auth{Envelope: events.Envelope{Timestamp: baseTime}, Action: events.AuthSuccess, Success: true})

	assert.Eventually(t, func() bool { return store.count() == 1 }, time.Second, 10*time.Millisecond)
	require.NoError(t, w.Close(context.Background()))
}

func TestWriterSwallowsStoreErrors(t *testing.T) {
	defer goleak.VerifyNone(t)

	store := &memoryStore{err: errors.New("disk full")}
	w := NewWriter(store, 1, time.Hour)

	assert.NotPanics(t, func() {
		w.Write(events.Redirect{Envelope: events.Envelope{Timestamp: baseTime}, Slug: "gh"})
	})
	require.NoError(t, w.Close(context.Background()))
	assert.Equal(t, 0, store.count())
}

func TestNilWriterIsNoop(t *testing.T) {
	var w *Writer
	assert.NotPanics(t, func() { w.Write(events.AI{}) })
}
