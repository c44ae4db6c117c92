package analytics

import (
	"context"
	"sync"
	"time"

	"github.com/catstream/edge-metrics-go/internal/events"
	"github.com/catstream/edge-metrics-go/internal/pkg/logger"
	"github.com/catstream/edge-metrics-go/internal/pkg/telemetry"
	"go.uber.org/zap"
)

const (
	defaultBufferSize    = 100
	defaultFlushInterval = 5 * time.Second
	flushTimeout         = 30 * time.Second
	maxInflightFlushes   = 4
)

// Writer 缓冲写入器; Write 不阻塞请求路径, 失败只记录日志
type Writer struct {
	store         Store
	buffer        []events.DataPoint
	bufferSize    int
	flushInterval time.Duration

	mu       sync.Mutex
	stopCh   chan struct{}
	stopped  bool
	inflight chan struct{}
	wg       sync.WaitGroup
}

// NewWriter 创建写入器并启动定时刷新
func NewWriter(store Store, bufferSize int, flushInterval time.Duration) *Writer {
	if bufferSize <= 0 {
		bufferSize = defaultBufferSize
	}
	if flushInterval <= 0 {
		flushInterval = defaultFlushInterval
	}

	w := &Writer{
		store:         store,
		buffer:        make([]events.DataPoint, 0, bufferSize),
		bufferSize:    bufferSize,
		flushInterval: flushInterval,
		stopCh:        make(chan struct{}),
		inflight:      make(chan struct{}, maxInflightFlushes),
	}

	w.wg.Add(1)
	go w.flushLoop()

	logger.Info("📝 Analytics writer started",
		zap.Int("buffer_size", bufferSize),
		zap.Duration("flush_interval", flushInterval))
	return w
}

// Write 事件入缓冲
func (w *Writer) Write(e events.Event) {
	if w == nil || e == nil {
		return
	}
	w.WritePoint(events.Encode(e))
}

// WritePoint 数据点入缓冲
func (w *Writer) WritePoint(p events.DataPoint) {
	if w == nil || w.store == nil {
		return
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	if w.stopped {
		telemetry.EventsDropped.Inc()
		return
	}

	w.buffer = append(w.buffer, p)
	if len(w.buffer) >= w.bufferSize {
		w.flushAsyncLocked()
	}
}

func (w *Writer) flushLoop() {
	defer w.wg.Done()

	ticker := time.NewTicker(w.flushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			w.mu.Lock()
			if !w.stopped && len(w.buffer) > 0 {
				w.flushAsyncLocked()
			}
			w.mu.Unlock()
		case <-w.stopCh:
			return
		}
	}
}

// flushAsyncLocked 调用方持有锁; 在途刷新过多时丢弃本批
func (w *Writer) flushAsyncLocked() {
	batch := w.takeLocked()
	if len(batch) == 0 {
		return
	}

	select {
	case w.inflight <- struct{}{}:
	default:
		telemetry.EventsDropped.Add(float64(len(batch)))
		logger.Warn("⚠️ Analytics writer saturated, dropping batch", zap.Int("count", len(batch)))
		return
	}

	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		defer func() { <-w.inflight }()

		ctx, cancel := context.WithTimeout(context.Background(), flushTimeout)
		defer cancel()
		w.insert(ctx, batch)
	}()
}

func (w *Writer) takeLocked() []events.DataPoint {
	if len(w.buffer) == 0 {
		return nil
	}
	batch := make([]events.DataPoint, len(w.buffer))
	copy(batch, w.buffer)
	w.buffer = w.buffer[:0]
	return batch
}

func (w *Writer) insert(ctx context.Context, batch []events.DataPoint) {
	if err := w.store.InsertBatch(ctx, batch); err != nil {
		telemetry.WriteFailures.WithLabelValues("event").Add(float64(len(batch)))
		logger.Warn("⚠️ Failed to flush analytics events", zap.Int("count", len(batch)), zap.Error(err))
		return
	}
	logger.Storage("flushed analytics events", zap.Int("count", len(batch)))
}

// Flush 同步刷新缓冲
func (w *Writer) Flush(ctx context.Context) error {
	w.mu.Lock()
	batch := w.takeLocked()
	w.mu.Unlock()

	if len(batch) == 0 {
		return nil
	}
	return w.store.InsertBatch(ctx, batch)
}

// Close 停止定时刷新, 写出剩余数据并等待在途写入结束
func (w *Writer) Close(ctx context.Context) error {
	w.mu.Lock()
	if w.stopped {
		w.mu.Unlock()
		return nil
	}
	w.stopped = true
	w.mu.Unlock()

	close(w.stopCh)
	err := w.Flush(ctx)
	w.wg.Wait()
	return err
}
