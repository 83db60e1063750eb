// Package transcript persists one CSV row per saved chat turn or survey
// completion. The file is the system of record consumed by the research
// team's spreadsheet tooling, so the column set, the UTF-8 BOM, and the
// rendered conversation format are all load-bearing.
package transcript

import (
	"bytes"
	"encoding/csv"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync"
	"time"
)

// ScoreUnrated is the satisfaction column sentinel for rows saved before
// the visitor rated the conversation.
const ScoreUnrated = "N/A"

// timestampLayout matches the wall-clock, second-precision format the
// downstream tooling expects.
const timestampLayout = "2006-01-02 15:04:05"

// utf8BOM is written at file creation so spreadsheet applications decode
// the Korean transcripts correctly.
var utf8BOM = []byte{0xEF, 0xBB, 0xBF}

var header = []string{
	"timestamp",
	"age_gender",
	"location",
	"budget",
	"companion",
	"full_conversation",
	"satisfaction_score",
}

// Row is one persisted record: a timestamp, the profile snapshot, the
// conversation rendered as a single text block, and the satisfaction score
// (or ScoreUnrated). Rows are self-contained; replaying the store needs no
// cross-row joins.
type Row struct {
	Timestamp    time.Time
	AgeGender    string
	Location     string
	Budget       string
	Companion    string
	Conversation string
	Score        string
}

func (r Row) record() []string {
	score := r.Score
	if score == "" {
		score = ScoreUnrated
	}
	return []string{
		r.Timestamp.Format(timestampLayout),
		r.AgeGender,
		r.Location,
		r.Budget,
		r.Companion,
		r.Conversation,
		score,
	}
}

// Store is an append-only CSV log. All appends are serialized behind one
// mutex so concurrent sessions cannot interleave partial rows.
type Store struct {
	mu     sync.Mutex
	path   string
	logger *slog.Logger
}

// NewStore creates a store writing to path. The file is created lazily on
// the first append.
func NewStore(path string, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{
		path:   path,
		logger: logger.With("component", "transcript_store"),
	}
}

// Path returns the backing file path.
func (s *Store) Path() string {
	return s.path
}

// Append adds one row, creating the file with a BOM and header row on first
// write. Rows are never updated or deleted.
func (s *Store) Append(row Row) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, statErr := os.Stat(s.path)
	newFile := os.IsNotExist(statErr)
	if statErr != nil && !newFile {
		return fmt.Errorf("failed to stat transcript file: %w", statErr)
	}

	f, err := os.OpenFile(s.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("failed to open transcript file: %w", err)
	}
	defer func() {
		if closeErr := f.Close(); closeErr != nil {
			s.logger.Error("Failed to close transcript file", "path", s.path, "error", closeErr)
		}
	}()

	if newFile {
		if _, err := f.Write(utf8BOM); err != nil {
			return fmt.Errorf("failed to write BOM: %w", err)
		}
	}

	w := csv.NewWriter(f)
	if newFile {
		if err := w.Write(header); err != nil {
			return fmt.Errorf("failed to write header: %w", err)
		}
	}
	if err := w.Write(row.record()); err != nil {
		return fmt.Errorf("failed to write transcript row: %w", err)
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return fmt.Errorf("failed to flush transcript row: %w", err)
	}

	s.logger.Debug("Transcript row appended", "path", s.path, "score", row.record()[6])
	return nil
}

// ReadAll returns every persisted row in append order. A missing file is an
// empty store, not an error.
func (s *Store) ReadAll() ([]Row, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read transcript file: %w", err)
	}
	data = bytes.TrimPrefix(data, utf8BOM)

	r := csv.NewReader(bytes.NewReader(data))
	r.FieldsPerRecord = len(header)

	// Skip the header row.
	if _, err := r.Read(); err != nil {
		if err == io.EOF {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read transcript header: %w", err)
	}

	var rows []Row
	for {
		rec, err := r.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to parse transcript row: %w", err)
		}
		ts, err := time.ParseInLocation(timestampLayout, rec[0], time.Local)
		if err != nil {
			return nil, fmt.Errorf("failed to parse row timestamp %q: %w", rec[0], err)
		}
		rows = append(rows, Row{
			Timestamp:    ts,
			AgeGender:    rec[1],
			Location:     rec[2],
			Budget:       rec[3],
			Companion:    rec[4],
			Conversation: rec[5],
			Score:        rec[6],
		})
	}
	return rows, nil
}

// Open returns a reader over the raw CSV file, BOM included, for
// streaming downloads. An empty store yields a header-only document.
func (s *Store) Open() (io.ReadCloser, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	f, err := os.Open(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			var buf bytes.Buffer
			buf.Write(utf8BOM)
			w := csv.NewWriter(&buf)
			if err := w.Write(header); err != nil {
				return nil, fmt.Errorf("failed to render header: %w", err)
			}
			w.Flush()
			return io.NopCloser(bytes.NewReader(buf.Bytes())), nil
		}
		return nil, fmt.Errorf("failed to open transcript file: %w", err)
	}
	return f, nil
}

// Header returns the CSV column names in file order.
func Header() []string {
	out := make([]string, len(header))
	copy(out, header)
	return out
}
