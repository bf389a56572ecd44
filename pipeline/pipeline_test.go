package pipeline

import (
	"errors"
	"strconv"
	"sync"
	"testing"

	"github.com/aluiziolira/go-book-lookup/config"
	"github.com/aluiziolira/go-book-lookup/models"
)

type mockWriter struct {
	mu          sync.Mutex
	batches     [][]*models.Record
	closed      bool
	writeErr    error
	validateErr error
}

func (mw *mockWriter) Write(records []*models.Record) error {
	mw.mu.Lock()
	defer mw.mu.Unlock()
	if mw.writeErr != nil {
		return mw.writeErr
	}
	copyBatch := make([]*models.Record, len(records))
	copy(copyBatch, records)
	mw.batches = append(mw.batches, copyBatch)
	return nil
}

func (mw *mockWriter) Close() error {
	mw.mu.Lock()
	mw.closed = true
	mw.mu.Unlock()
	return nil
}

func (mw *mockWriter) Validate() error {
	return mw.validateErr
}

func (mw *mockWriter) written() []*models.Record {
	mw.mu.Lock()
	defer mw.mu.Unlock()
	var out []*models.Record
	for _, batch := range mw.batches {
		out = append(out, batch...)
	}
	return out
}

func newTestPipeline(t *testing.T, writer OutputWriter) *Pipeline {
	t.Helper()
	p, err := NewPipeline(writer, config.DefaultConfig())
	if err != nil {
		t.Fatalf("new pipeline: %v", err)
	}
	return p
}

func TestPipelinePreservesOrderAndRepeats(t *testing.T) {
	writer := &mockWriter{}
	p := newTestPipeline(t, writer)

	names := []string{"Emma", "Dune", "Emma", "Ulysses", "Dune"}
	for _, name := range names {
		if err := p.Process(&models.Record{Name: name, Title: name}); err != nil {
			t.Fatalf("process: %v", err)
		}
	}

	if err := p.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	got := writer.written()
	if len(got) != len(names) {
		t.Fatalf("written records = %d, want %d", len(got), len(names))
	}
	for i, name := range names {
		if got[i].Name != name {
			t.Fatalf("record %d name = %q, want %q", i, got[i].Name, name)
		}
	}
	if !writer.closed {
		t.Fatalf("writer should be closed")
	}

	metrics := p.GetMetrics()
	if processed := metrics["processed_records"].(int64); processed != 5 {
		t.Fatalf("processed = %d, want 5", processed)
	}
	if repeated := metrics["repeated_queries"].(int64); repeated != 2 {
		t.Fatalf("repeated = %d, want 2", repeated)
	}
}

func TestPipelineRejectsInvalidRecord(t *testing.T) {
	writer := &mockWriter{}
	p := newTestPipeline(t, writer)

	if err := p.Process(&models.Record{Name: " "}); err == nil {
		t.Fatalf("expected error for blank name")
	}
	if err := p.Process(nil); err == nil {
		t.Fatalf("expected error for nil record")
	}

	validation := p.GetMetrics()["validation_errors"].(map[string]int)
	if validation["invalid_record"] != 2 {
		t.Fatalf("invalid_record = %d, want 2", validation["invalid_record"])
	}
	if len(p.Records()) != 0 {
		t.Fatalf("invalid records should not be kept")
	}
}

func TestPipelineProcessAfterClose(t *testing.T) {
	p := newTestPipeline(t, &mockWriter{})
	if err := p.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if err := p.Process(&models.Record{Name: "late"}); !errors.Is(err, ErrPipelineClosed) {
		t.Fatalf("expected ErrPipelineClosed, got %v", err)
	}
}

func TestPipelineCloseWritesOnce(t *testing.T) {
	writer := &mockWriter{}
	p := newTestPipeline(t, writer)

	for i := 0; i < 10; i++ {
		if err := p.Process(&models.Record{Name: "Book " + strconv.Itoa(i)}); err != nil {
			t.Fatalf("process: %v", err)
		}
	}
	if err := p.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if err := p.Close(); err != nil {
		t.Fatalf("second close: %v", err)
	}

	writer.mu.Lock()
	batches := len(writer.batches)
	writer.mu.Unlock()
	if batches != 1 {
		t.Fatalf("write calls = %d, want 1", batches)
	}
}

func TestPipelineCloseSurfacesWriteError(t *testing.T) {
	writeErr := errors.New("disk full")
	p := newTestPipeline(t, &mockWriter{writeErr: writeErr})

	if err := p.Process(&models.Record{Name: "Emma"}); err != nil {
		t.Fatalf("process: %v", err)
	}
	if err := p.Close(); !errors.Is(err, writeErr) {
		t.Fatalf("close error = %v, want %v", err, writeErr)
	}
	if !errors.Is(p.Err(), writeErr) {
		t.Fatalf("Err() = %v, want %v", p.Err(), writeErr)
	}
}

func TestPipelineRepeatWindowEvicts(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.RepeatWindow = 1
	p, err := NewPipeline(&mockWriter{}, cfg)
	if err != nil {
		t.Fatalf("new pipeline: %v", err)
	}

	for _, name := range []string{"A", "B", "A"} {
		if err := p.Process(&models.Record{Name: name}); err != nil {
			t.Fatalf("process: %v", err)
		}
	}

	if repeated := p.GetMetrics()["repeated_queries"].(int64); repeated != 0 {
		t.Fatalf("repeated = %d, want 0 once the window evicted A", repeated)
	}
	if got := len(p.Records()); got != 3 {
		t.Fatalf("records = %d, want 3", got)
	}
}

func TestPipelineAbortWritesNothing(t *testing.T) {
	writer := &mockWriter{}
	p := newTestPipeline(t, writer)

	if err := p.Process(&models.Record{Name: "Emma"}); err != nil {
		t.Fatalf("process: %v", err)
	}
	p.Abort()

	if err := p.Close(); err != nil {
		t.Fatalf("close after abort: %v", err)
	}
	if len(writer.batches) != 0 || writer.closed {
		t.Fatalf("abort should not touch the writer: batches=%d closed=%v", len(writer.batches), writer.closed)
	}
	if !errors.Is(p.Process(&models.Record{Name: "Dune"}), ErrPipelineClosed) {
		t.Fatalf("process after abort should fail")
	}
}
