// Package journal drains room activity from the hub into the activity
// database off the hub goroutine, and prunes old entries periodically.
package journal

import (
	"log/slog"
	"sync"
	"time"

	"github.com/manpreetbhatti/huddle/internal/db"
	"github.com/manpreetbhatti/huddle/internal/metrics"
)

type Config struct {
	QueueSize     int
	BatchSize     int
	Retention     time.Duration
	PruneInterval time.Duration
}

func DefaultConfig() Config {
	return Config{
		QueueSize:     1024,
		BatchSize:     64,
		Retention:     24 * time.Hour,
		PruneInterval: 10 * time.Minute,
	}
}

type Service struct {
	database *db.Database
	config   Config
	logger   *slog.Logger
	queue    chan db.Event
	stop     chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

func New(database *db.Database, config Config, logger *slog.Logger) *Service {
	def := DefaultConfig()
	if config.QueueSize <= 0 {
		config.QueueSize = def.QueueSize
	}
	if config.BatchSize <= 0 {
		config.BatchSize = def.BatchSize
	}
	if config.PruneInterval <= 0 {
		config.PruneInterval = def.PruneInterval
	}
	return &Service{
		database: database,
		config:   config,
		logger:   logger.With("component", "journal"),
		queue:    make(chan db.Event, config.QueueSize),
		stop:     make(chan struct{}),
	}
}

// Record queues an event without blocking. When the queue is full the
// event is dropped.
func (s *Service) Record(ev db.Event) {
	if ev.At.IsZero() {
		ev.At = time.Now()
	}
	select {
	case s.queue <- ev:
	default:
		metrics.DroppedEvents.WithLabelValues("journal_full").Inc()
		s.logger.Warn("journal queue full, dropping event", "kind", ev.Kind, "room", ev.RoomCode)
	}
}

func (s *Service) Start() {
	s.wg.Add(1)
	go s.run()
	s.logger.Info("journal started",
		"retention", s.config.Retention, "prune_interval", s.config.PruneInterval)
}

// Stop flushes whatever is queued and waits for the writer to exit.
func (s *Service) Stop() {
	s.stopOnce.Do(func() { close(s.stop) })
	s.wg.Wait()
	s.logger.Info("journal stopped")
}

func (s *Service) run() {
	defer s.wg.Done()

	ticker := time.NewTicker(s.config.PruneInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stop:
			s.flush(s.drain(nil, len(s.queue)))
			return
		case ev := <-s.queue:
			s.flush(s.drain([]db.Event{ev}, s.config.BatchSize-1))
		case <-ticker.C:
			s.PruneNow()
		}
	}
}

// drain appends up to n already-queued events to batch without waiting.
func (s *Service) drain(batch []db.Event, n int) []db.Event {
	for i := 0; i < n; i++ {
		select {
		case ev := <-s.queue:
			batch = append(batch, ev)
		default:
			return batch
		}
	}
	return batch
}

func (s *Service) flush(batch []db.Event) {
	if len(batch) == 0 {
		return
	}
	if err := s.database.RecordEvents(batch); err != nil {
		s.logger.Error("journal write failed", "events", len(batch), "err", err)
	}
}

// PruneNow deletes entries older than the retention window. A zero
// retention keeps everything.
func (s *Service) PruneNow() {
	if s.config.Retention <= 0 {
		return
	}
	n, err := s.database.PruneBefore(time.Now().Add(-s.config.Retention))
	if err != nil {
		s.logger.Error("journal prune failed", "err", err)
		return
	}
	if n > 0 {
		s.logger.Info("journal pruned", "rows", n)
	}
}
