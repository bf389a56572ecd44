package pipeline

import (
	"bufio"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"

	"go.yaml.in/yaml/v3"

	"github.com/aluiziolira/go-book-lookup/models"
)

// buffer collects records until Close so that an aborted run never
// leaves a partial output file behind.
type buffer struct {
	filename string
	mu       sync.Mutex
	records  []*models.Record
	closed   bool
}

func (b *buffer) add(records []*models.Record) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return fmt.Errorf("write %s: writer closed", b.filename)
	}
	b.records = append(b.records, records...)
	return nil
}

// flush creates the output file and encodes the buffered records into it.
func (b *buffer) flush(encode func(w io.Writer, records []*models.Record) error) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil
	}
	b.closed = true

	if err := ensureDir(b.filename); err != nil {
		return err
	}
	f, err := os.Create(b.filename)
	if err != nil {
		return fmt.Errorf("create output file: %w", err)
	}

	w := bufio.NewWriter(f)
	if err := encode(w, b.records); err != nil {
		f.Close()
		return err
	}
	if err := w.Flush(); err != nil {
		f.Close()
		return fmt.Errorf("flush %s: %w", b.filename, err)
	}
	return f.Close()
}

func (b *buffer) validate() error {
	info, err := os.Stat(b.filename)
	if err != nil {
		return fmt.Errorf("stat output file: %w", err)
	}
	if info.Size() <= 0 {
		return fmt.Errorf("output file %s is empty", b.filename)
	}
	return nil
}

// JSONWriter writes records as one indented JSON array.
type JSONWriter struct {
	buf *buffer
}

// NewJSONWriter prepares a JSON writer for filename. The file is created on Close.
func NewJSONWriter(filename string) (*JSONWriter, error) {
	if filename == "" {
		return nil, fmt.Errorf("json output file cannot be empty")
	}
	return &JSONWriter{buf: &buffer{filename: filename}}, nil
}

// Write buffers records.
func (jw *JSONWriter) Write(records []*models.Record) error {
	return jw.buf.add(records)
}

// Close writes the array and closes the file.
func (jw *JSONWriter) Close() error {
	return jw.buf.flush(encodeJSON)
}

// Validate ensures the JSON file has data.
func (jw *JSONWriter) Validate() error {
	return jw.buf.validate()
}

func encodeJSON(w io.Writer, records []*models.Record) error {
	if records == nil {
		records = []*models.Record{}
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "    ")
	enc.SetEscapeHTML(false)
	if err := enc.Encode(records); err != nil {
		return fmt.Errorf("encode json records: %w", err)
	}
	return nil
}

// CSVWriter writes records as CSV with a header row.
type CSVWriter struct {
	buf *buffer
}

// NewCSVWriter prepares a CSV writer for filename. The file is created on Close.
func NewCSVWriter(filename string) (*CSVWriter, error) {
	if filename == "" {
		return nil, fmt.Errorf("csv output file cannot be empty")
	}
	return &CSVWriter{buf: &buffer{filename: filename}}, nil
}

// Write buffers records.
func (cw *CSVWriter) Write(records []*models.Record) error {
	return cw.buf.add(records)
}

// Close writes the rows and closes the file.
func (cw *CSVWriter) Close() error {
	return cw.buf.flush(encodeCSV)
}

// Validate ensures the CSV file was written.
func (cw *CSVWriter) Validate() error {
	return cw.buf.validate()
}

func encodeCSV(w io.Writer, records []*models.Record) error {
	writer := csv.NewWriter(w)
	header := []string{"name", "title", "author", "coverPageLink"}
	if err := writer.Write(header); err != nil {
		return fmt.Errorf("write csv header: %w", err)
	}
	for _, record := range records {
		row := []string{
			record.Name,
			record.Title,
			record.Author,
			record.CoverPageLink,
		}
		if err := writer.Write(row); err != nil {
			return fmt.Errorf("write csv record: %w", err)
		}
	}
	writer.Flush()
	if err := writer.Error(); err != nil {
		return fmt.Errorf("flush csv records: %w", err)
	}
	return nil
}

// YAMLWriter writes records as a YAML sequence.
type YAMLWriter struct {
	buf *buffer
}

// NewYAMLWriter prepares a YAML writer for filename. The file is created on Close.
func NewYAMLWriter(filename string) (*YAMLWriter, error) {
	if filename == "" {
		return nil, fmt.Errorf("yaml output file cannot be empty")
	}
	return &YAMLWriter{buf: &buffer{filename: filename}}, nil
}

// Write buffers records.
func (yw *YAMLWriter) Write(records []*models.Record) error {
	return yw.buf.add(records)
}

// Close writes the document and closes the file.
func (yw *YAMLWriter) Close() error {
	return yw.buf.flush(encodeYAML)
}

// Validate ensures the YAML file has data.
func (yw *YAMLWriter) Validate() error {
	return yw.buf.validate()
}

func encodeYAML(w io.Writer, records []*models.Record) error {
	if records == nil {
		records = []*models.Record{}
	}
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(records); err != nil {
		return fmt.Errorf("encode yaml records: %w", err)
	}
	if err := enc.Close(); err != nil {
		return fmt.Errorf("close yaml encoder: %w", err)
	}
	return nil
}

func ensureDir(filename string) error {
	dir := filepath.Dir(filename)
	if dir == "" || dir == "." {
		return nil
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create directory %q: %w", dir, err)
	}
	return nil
}
