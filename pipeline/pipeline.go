package pipeline

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/aluiziolira/go-book-lookup/config"
	"github.com/aluiziolira/go-book-lookup/models"
	"github.com/aluiziolira/go-book-lookup/parser"
)

var (
	// ErrPipelineClosed is returned when Process is called after shutdown.
	ErrPipelineClosed = errors.New("pipeline: closed")
)

// OutputWriter defines the interface for data output.
type OutputWriter interface {
	Write(records []*models.Record) error
	Close() error
	Validate() error
}

// Pipeline keeps the result set in input order and hands it to the writer
// on Close.
type Pipeline struct {
	writer  OutputWriter
	records []*models.Record

	// repeats remembers recent query names so repeated lookups can be
	// reported. Repeated records are still kept.
	repeats *lru.Cache[string, struct{}]

	metrics metrics

	mu     sync.Mutex // guards records/closed/err
	closed bool
	err    error

	closeOnce    sync.Once
	shutdown     chan struct{}
	shutdownOnce sync.Once
}

// NewPipeline builds a pipeline writing to writer.
func NewPipeline(writer OutputWriter, cfg *config.Config) (*Pipeline, error) {
	window := cfg.RepeatWindow
	if window <= 0 {
		window = config.DefaultConfig().RepeatWindow
	}
	repeats, err := lru.New[string, struct{}](window)
	if err != nil {
		return nil, fmt.Errorf("create repeat tracker: %w", err)
	}

	return &Pipeline{
		writer:   writer,
		records:  make([]*models.Record, 0, 64),
		repeats:  repeats,
		metrics:  newMetrics(),
		shutdown: make(chan struct{}),
	}, nil
}

// Process appends records to the result set in the order given.
func (p *Pipeline) Process(records ...*models.Record) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.err != nil {
		return p.err
	}
	if p.closed {
		return ErrPipelineClosed
	}

	for _, record := range records {
		if err := parser.ValidateRecord(record); err != nil {
			p.metrics.addValidation("invalid_record")
			return fmt.Errorf("process record: %w", err)
		}
		if found, _ := p.repeats.ContainsOrAdd(record.Name, struct{}{}); found {
			p.metrics.incrementRepeated()
			slog.Debug("repeated query", slog.String("name", record.Name))
		}
		p.records = append(p.records, record)
		p.metrics.incrementProcessed()
	}
	return nil
}

// Records returns a copy of the result set.
func (p *Pipeline) Records() []*models.Record {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]*models.Record, len(p.records))
	copy(out, p.records)
	return out
}

// Close writes the result set, closes the writer and prevents more
// submissions. Only the first call writes.
func (p *Pipeline) Close() error {
	p.closeOnce.Do(func() {
		p.mu.Lock()
		p.closed = true
		records := p.records
		p.mu.Unlock()

		p.signalShutdown()

		if err := p.writer.Write(records); err != nil {
			p.setErr(fmt.Errorf("write records: %w", err))
			return
		}
		if err := p.writer.Close(); err != nil {
			p.setErr(fmt.Errorf("close writer: %w", err))
		}
	})
	return p.Err()
}

// Abort discards the result set without writing anything. Close after
// Abort is a no-op.
func (p *Pipeline) Abort() {
	p.closeOnce.Do(func() {
		p.mu.Lock()
		p.closed = true
		p.mu.Unlock()
		p.signalShutdown()
	})
}

// Err returns the first error encountered during processing.
func (p *Pipeline) Err() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.err
}

// GetMetrics returns a snapshot of the internal counters.
func (p *Pipeline) GetMetrics() map[string]interface{} {
	return p.metrics.snapshot()
}

// StartMetricsReporting emits periodic progress logs until Close.
func (p *Pipeline) StartMetricsReporting(interval time.Duration) {
	if interval <= 0 {
		return
	}

	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				metrics := p.GetMetrics()
				processed := metrics["processed_records"].(int64)
				repeated := metrics["repeated_queries"].(int64)
				slog.Debug("pipeline progress",
					slog.Int64("processed", processed),
					slog.Int64("repeated", repeated),
				)
			case <-p.shutdown:
				return
			}
		}
	}()
}

func (p *Pipeline) setErr(err error) {
	if err == nil {
		return
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return
	}
	p.err = err
	p.closed = true
}

func (p *Pipeline) signalShutdown() {
	p.shutdownOnce.Do(func() {
		close(p.shutdown)
	})
}

type metrics struct {
	mu         sync.Mutex
	processed  int64
	repeated   int64
	validation map[string]int
}

func newMetrics() metrics {
	return metrics{
		validation: make(map[string]int),
	}
}

func (m *metrics) incrementProcessed() {
	m.mu.Lock()
	m.processed++
	m.mu.Unlock()
}

func (m *metrics) incrementRepeated() {
	m.mu.Lock()
	m.repeated++
	m.mu.Unlock()
}

func (m *metrics) addValidation(kind string) {
	m.mu.Lock()
	m.validation[kind]++
	m.mu.Unlock()
}

func (m *metrics) snapshot() map[string]interface{} {
	m.mu.Lock()
	defer m.mu.Unlock()

	copyValidation := make(map[string]int, len(m.validation))
	for k, v := range m.validation {
		copyValidation[k] = v
	}

	return map[string]interface{}{
		"processed_records": m.processed,
		"repeated_queries":  m.repeated,
		"validation_errors": copyValidation,
	}
}
