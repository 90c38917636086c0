// Package metricslog provides the bounded, asynchronously flushed CSV sink
// consumed by the offline analysis tooling. Producers hand it ordered rows
// of named fields; a background writer batches them to disk. When the
// buffer is full rows are dropped and counted rather than blocking the
// game loops.
package metricslog

import (
	"encoding/csv"
	"fmt"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"
)

const (
	rowBufferSize  = 1024
	maxRowsPerSec  = 1000
	flushInterval  = 100 * time.Millisecond
	batchFlushSize = 64
)

// Sink is an append-only CSV log with a fixed column set.
type Sink struct {
	path    string
	columns []string

	rows    chan []string
	limiter *rate.Limiter

	file   *os.File
	writer *csv.Writer

	writerWg sync.WaitGroup
	stopChan chan struct{}
	stopOnce sync.Once
	running  atomic.Bool

	droppedCount atomic.Uint64
	totalCount   atomic.Uint64
}

// New creates a sink for the given file path and ordered column names.
func New(path string, columns []string) *Sink {
	return &Sink{
		path:     path,
		columns:  columns,
		rows:     make(chan []string, rowBufferSize),
		limiter:  rate.NewLimiter(maxRowsPerSec, maxRowsPerSec/10),
		stopChan: make(chan struct{}),
	}
}

// Start opens the file, writes the header row, and launches the async
// writer goroutine.
func (s *Sink) Start() error {
	if s.running.Load() {
		return nil
	}

	file, err := os.OpenFile(s.path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		return err
	}
	s.file = file
	s.writer = csv.NewWriter(file)

	if err := s.writer.Write(s.columns); err != nil {
		file.Close()
		return err
	}
	s.writer.Flush()

	s.running.Store(true)
	s.writerWg.Add(1)
	go s.writerLoop()

	return nil
}

// Stop flushes pending rows and closes the file. Safe to call twice.
func (s *Sink) Stop() {
	s.stopOnce.Do(func() {
		s.running.Store(false)
		close(s.stopChan)
		s.writerWg.Wait()

		if s.file != nil {
			s.writer.Flush()
			s.file.Close()
		}
	})
}

// Log appends one row. Values are formatted in column order; the call never
// blocks: over-rate or buffer-full rows are dropped and counted.
func (s *Sink) Log(values ...any) bool {
	if !s.running.Load() {
		return false
	}
	if len(values) != len(s.columns) {
		s.droppedCount.Add(1)
		return false
	}
	if !s.limiter.Allow() {
		s.droppedCount.Add(1)
		return false
	}

	row := make([]string, len(values))
	for i, v := range values {
		row[i] = formatValue(v)
	}

	select {
	case s.rows <- row:
		s.totalCount.Add(1)
		return true
	default:
		s.droppedCount.Add(1)
		return false
	}
}

func formatValue(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case float64:
		return fmt.Sprintf("%.3f", t)
	case float32:
		return fmt.Sprintf("%.3f", t)
	case time.Time:
		return fmt.Sprintf("%d", t.UnixMilli())
	default:
		return fmt.Sprintf("%v", t)
	}
}

// writerLoop batches rows to disk on a fixed cadence.
func (s *Sink) writerLoop() {
	defer s.writerWg.Done()

	ticker := time.NewTicker(flushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stopChan:
			s.drain()
			return
		case <-ticker.C:
			s.flushBatch()
		}
	}
}

// flushBatch writes up to one batch of buffered rows.
func (s *Sink) flushBatch() {
	for i := 0; i < batchFlushSize; i++ {
		select {
		case row := <-s.rows:
			s.writer.Write(row)
		default:
			s.writer.Flush()
			return
		}
	}
	s.writer.Flush()
}

// drain empties the buffer completely during shutdown.
func (s *Sink) drain() {
	for {
		select {
		case row := <-s.rows:
			s.writer.Write(row)
		default:
			s.writer.Flush()
			return
		}
	}
}

// Columns returns the ordered column names.
func (s *Sink) Columns() []string { return s.columns }

// Dropped returns the number of rows dropped by rate limiting or overflow.
func (s *Sink) Dropped() uint64 { return s.droppedCount.Load() }

// Total returns the number of rows accepted.
func (s *Sink) Total() uint64 { return s.totalCount.Load() }
