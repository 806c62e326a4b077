package audit

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/upb/llm-governance-gateway/models"
	"github.com/upb/llm-governance-gateway/repositories"
	"go.uber.org/zap"
)

var (
	// ErrNotStarted is returned when logging to a sink that is not running
	ErrNotStarted = errors.New("audit sink not started")

	// ErrBufferFull is returned when the queue cannot take another record
	ErrBufferFull = errors.New("audit buffer full")
)

// Config holds configuration for the AsyncSink
type Config struct {
	BufferSize   int           // size of the record queue
	WorkerCount  int           // concurrent repository writers
	WriteTimeout time.Duration // per-insert timeout

	// HashChain links records by hash as they are written, so a failed
	// insert never leaves a gap in the stored chain
	HashChain bool
	ChainHead string // hash of the last stored record
}

// DefaultConfig returns the default configuration
func DefaultConfig() Config {
	return Config{
		BufferSize:   10000,
		WorkerCount:  5,
		WriteTimeout: 5 * time.Second,
	}
}

// AsyncSink queues records and writes them to a repository from a pool of
// background workers, so request latency never includes the insert
type AsyncSink struct {
	repo        repositories.AuditRepository
	writer      Sink
	chain       *ChainSink
	logger      *zap.Logger
	records     chan *models.AuditRecord
	workerCount int
	bufferSize  int
	timeout     time.Duration
	wg          sync.WaitGroup
	mu          sync.Mutex
	started     bool
	stopped     bool

	delivered atomic.Int64
	failed    atomic.Int64
	dropped   atomic.Int64
}

// NewAsyncSink creates a new AsyncSink instance
func NewAsyncSink(repo repositories.AuditRepository, logger *zap.Logger, config Config) *AsyncSink {
	if config.WriteTimeout <= 0 {
		config.WriteTimeout = DefaultConfig().WriteTimeout
	}
	s := &AsyncSink{
		repo:        repo,
		logger:      logger,
		records:     make(chan *models.AuditRecord, config.BufferSize),
		workerCount: config.WorkerCount,
		bufferSize:  config.BufferSize,
		timeout:     config.WriteTimeout,
	}
	s.writer = SinkFunc(func(ctx context.Context, r *models.AuditRecord) error {
		return s.repo.Insert(ctx, r)
	})
	if config.HashChain {
		s.chain = NewChainSink(s.writer, config.ChainHead)
		s.writer = s.chain
	}
	return s
}

// Start starts the background workers
func (s *AsyncSink) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.started {
		return fmt.Errorf("audit sink already started")
	}

	for i := 0; i < s.workerCount; i++ {
		s.wg.Add(1)
		go s.worker(i)
	}

	s.started = true
	s.logger.Info("started audit sink",
		zap.Int("worker_count", s.workerCount),
		zap.Int("buffer_size", s.bufferSize))

	return nil
}

// Stop stops accepting records and waits for queued ones to be written
func (s *AsyncSink) Stop(timeout time.Duration) error {
	s.mu.Lock()
	if !s.started || s.stopped {
		s.mu.Unlock()
		return ErrNotStarted
	}
	s.stopped = true
	close(s.records)
	s.mu.Unlock()

	s.logger.Info("stopping audit sink", zap.Int("pending_records", len(s.records)))

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		s.logger.Info("audit sink stopped gracefully")
		return nil
	case <-time.After(timeout):
		return fmt.Errorf("audit sink stop timeout after %v", timeout)
	}
}

// Log queues a record without blocking
func (s *AsyncSink) Log(_ context.Context, record *models.AuditRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.started || s.stopped {
		return ErrNotStarted
	}

	select {
	case s.records <- record:
		return nil
	default:
		s.dropped.Add(1)
		s.logger.Warn("audit buffer full, dropping record",
			zap.String("request_id", record.RequestID),
			zap.String("principal_id", record.PrincipalID))
		return ErrBufferFull
	}
}

func (s *AsyncSink) worker(id int) {
	defer s.wg.Done()

	for record := range s.records {
		if err := s.write(record); err != nil {
			s.failed.Add(1)
			s.logger.Error("failed to write audit record",
				zap.Int("worker_id", id),
				zap.String("request_id", record.RequestID),
				zap.Error(err))
			continue
		}
		s.delivered.Add(1)
	}
}

func (s *AsyncSink) write(record *models.AuditRecord) error {
	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()
	return s.writer.Log(ctx, record)
}

// GetStats returns statistics about the sink
func (s *AsyncSink) GetStats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()

	stats := Stats{
		BufferSize:     s.bufferSize,
		PendingRecords: len(s.records),
		WorkerCount:    s.workerCount,
		Started:        s.started && !s.stopped,
		Delivered:      s.delivered.Load(),
		Failed:         s.failed.Load(),
		Dropped:        s.dropped.Load(),
	}
	if s.chain != nil {
		stats.ChainHead = s.chain.Head()
	}
	return stats
}

// Stats represents audit sink statistics
type Stats struct {
	BufferSize     int
	PendingRecords int
	WorkerCount    int
	Started        bool
	Delivered      int64
	Failed         int64
	Dropped        int64
	ChainHead      string
}
