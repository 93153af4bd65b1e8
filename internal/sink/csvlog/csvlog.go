// Package csvlog appends classified frames to a CSV file: the 48 sensor
// values, the label, the confidence percentage, the frame sequence number
// and the timestamp.
package csvlog

import (
	"encoding/csv"
	"fmt"
	"os"
	"strconv"
	"sync"
	"time"

	"github.com/banshee-data/posemat/internal/posemat/l2frames"
	"github.com/banshee-data/posemat/internal/posemat/session"
)

// Header returns the column names written once at the top of a new file.
func Header() []string {
	h := make([]string, 0, l2frames.Size+4)
	for i := 0; i < l2frames.Size; i++ {
		h = append(h, "s"+strconv.Itoa(i))
	}
	return append(h, "label", "confidence", "seq", "time")
}

// Sink is an append-only CSV log.
type Sink struct {
	mu   sync.Mutex
	f    *os.File
	w    *csv.Writer
	path string
	rows int
}

// Open opens or creates path for appending. The header is written only when
// the file is empty.
func Open(path string) (*Sink, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open csv log %s: %w", path, err)
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("stat csv log %s: %w", path, err)
	}

	s := &Sink{f: f, w: csv.NewWriter(f), path: path}
	if info.Size() == 0 {
		if err := s.w.Write(Header()); err != nil {
			f.Close()
			return nil, fmt.Errorf("write csv header: %w", err)
		}
		s.w.Flush()
		if err := s.w.Error(); err != nil {
			f.Close()
			return nil, fmt.Errorf("write csv header: %w", err)
		}
	}
	return s, nil
}

// Name implements session.Named.
func (s *Sink) Name() string { return "csv_log" }

// Path returns the file being written.
func (s *Sink) Path() string { return s.path }

// Rows returns the number of rows appended by this sink.
func (s *Sink) Rows() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rows
}

// Consume appends one row and flushes it.
func (s *Sink) Consume(ev session.Event) error {
	row := make([]string, 0, l2frames.Size+4)
	for _, v := range ev.Reading {
		row = append(row, strconv.Itoa(v))
	}
	row = append(row,
		ev.Result.Label,
		strconv.FormatFloat(ev.Result.Percent(), 'f', 2, 64),
		strconv.FormatUint(ev.Seq, 10),
		ev.Time.UTC().Format(time.RFC3339Nano),
	)

	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.w.Write(row); err != nil {
		return err
	}
	s.w.Flush()
	if err := s.w.Error(); err != nil {
		return err
	}
	s.rows++
	return nil
}

// Close flushes and closes the file.
func (s *Sink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.w.Flush()
	if err := s.w.Error(); err != nil {
		s.f.Close()
		return err
	}
	return s.f.Close()
}
