package db

import (
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/banshee-data/posemat/internal/posemat/l2frames"
	"github.com/banshee-data/posemat/internal/posemat/l3classify"
	"github.com/banshee-data/posemat/internal/posemat/session"
)

// SessionRecord is one row of the sessions table.
type SessionRecord struct {
	ID        uuid.UUID
	StartedAt time.Time
	LabelSet  string
	Model     string
}

// PoseRecord is one row of the pose log.
type PoseRecord struct {
	ID         int64
	SessionID  uuid.UUID
	Seq        uint64
	Time       time.Time
	Label      string
	LabelIndex int
	Confidence float64
	Rejected   bool
	Reading    l2frames.Reading
}

// LabelCount is the number of logged frames for one label.
type LabelCount struct {
	Label string
	Count int64
}

// RecordSession stores the start of a classification session. Recording the
// same id twice replaces the earlier row.
func (db *DB) RecordSession(id uuid.UUID, started time.Time, labels l3classify.LabelSet, model string) error {
	_, err := db.Exec(`
		INSERT OR REPLACE INTO sessions (session_id, started_unix_nanos, label_set, model)
		VALUES (?, ?, ?, ?)`,
		id.String(), started.UnixNano(), labels.String(), model,
	)
	if err != nil {
		return fmt.Errorf("failed to record session %s: %w", id, err)
	}
	return nil
}

// Sessions returns all recorded sessions, newest first.
func (db *DB) Sessions() ([]SessionRecord, error) {
	rows, err := db.Query(`
		SELECT session_id, started_unix_nanos, label_set, model
		FROM sessions ORDER BY started_unix_nanos DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []SessionRecord
	for rows.Next() {
		var (
			id      string
			started int64
			rec     SessionRecord
		)
		if err := rows.Scan(&id, &started, &rec.LabelSet, &rec.Model); err != nil {
			return nil, err
		}
		if rec.ID, err = uuid.Parse(id); err != nil {
			return nil, fmt.Errorf("bad session id %q: %w", id, err)
		}
		rec.StartedAt = time.Unix(0, started)
		out = append(out, rec)
	}
	return out, rows.Err()
}

// RecordPose appends one classified frame.
func (db *DB) RecordPose(ev session.Event) error {
	_, err := db.Exec(`
		INSERT INTO pose_log (
			session_id, seq, recorded_unix_nanos, label, label_index,
			confidence, rejected, sensor_values
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		ev.SessionID.String(),
		int64(ev.Seq),
		ev.Time.UnixNano(),
		ev.Result.Label,
		ev.Result.Index,
		ev.Result.Confidence,
		ev.Result.Rejected,
		encodeValues(ev.Reading),
	)
	if err != nil {
		return fmt.Errorf("failed to record pose seq %d: %w", ev.Seq, err)
	}
	return nil
}

// RecentPoses returns up to limit frames, newest first. A non-nil sessionID
// restricts the result to that session.
func (db *DB) RecentPoses(sessionID *uuid.UUID, limit int) ([]PoseRecord, error) {
	if limit <= 0 {
		return nil, errors.New("limit must be positive")
	}

	query := `
		SELECT id, session_id, seq, recorded_unix_nanos, label, label_index,
		       confidence, rejected, sensor_values
		FROM pose_log`
	args := []interface{}{}
	if sessionID != nil {
		query += " WHERE session_id = ?"
		args = append(args, sessionID.String())
	}
	query += " ORDER BY id DESC LIMIT ?"
	args = append(args, limit)

	rows, err := db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []PoseRecord
	for rows.Next() {
		rec, err := scanPose(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// LabelCounts returns frame counts per label, most frequent first.
func (db *DB) LabelCounts(sessionID *uuid.UUID) ([]LabelCount, error) {
	query := "SELECT label, COUNT(*) FROM pose_log"
	args := []interface{}{}
	if sessionID != nil {
		query += " WHERE session_id = ?"
		args = append(args, sessionID.String())
	}
	query += " GROUP BY label ORDER BY COUNT(*) DESC, label ASC"

	rows, err := db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []LabelCount
	for rows.Next() {
		var lc LabelCount
		if err := rows.Scan(&lc.Label, &lc.Count); err != nil {
			return nil, err
		}
		out = append(out, lc)
	}
	return out, rows.Err()
}

func scanPose(rows *sql.Rows) (PoseRecord, error) {
	var (
		rec      PoseRecord
		id       string
		seq      int64
		recorded int64
		values   string
	)
	if err := rows.Scan(&rec.ID, &id, &seq, &recorded, &rec.Label, &rec.LabelIndex,
		&rec.Confidence, &rec.Rejected, &values); err != nil {
		return rec, err
	}
	sid, err := uuid.Parse(id)
	if err != nil {
		return rec, fmt.Errorf("bad session id %q: %w", id, err)
	}
	reading, err := decodeValues(values)
	if err != nil {
		return rec, fmt.Errorf("pose %d: %w", rec.ID, err)
	}
	rec.SessionID = sid
	rec.Seq = uint64(seq)
	rec.Time = time.Unix(0, recorded)
	rec.Reading = reading
	return rec, nil
}

// Values use the wire format's comma separated integers.
func encodeValues(r l2frames.Reading) string {
	var b strings.Builder
	for i, v := range r {
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteString(strconv.Itoa(v))
	}
	return b.String()
}

func decodeValues(s string) (l2frames.Reading, error) {
	var r l2frames.Reading
	fields := strings.Split(s, ",")
	if len(fields) != l2frames.Size {
		return r, fmt.Errorf("%w: stored %d values", l2frames.ErrFieldCount, len(fields))
	}
	for i, f := range fields {
		v, err := strconv.Atoi(f)
		if err != nil {
			return r, fmt.Errorf("%w: %q", l2frames.ErrNotInteger, f)
		}
		r[i] = v
	}
	return r, nil
}

// Sink writes every event to the pose log.
type Sink struct {
	db *DB

	mu      sync.Mutex
	written int
}

// NewSink returns a session sink backed by db.
func NewSink(db *DB) *Sink { return &Sink{db: db} }

// Name implements session.Named.
func (s *Sink) Name() string { return "db" }

// Consume implements session.Sink.
func (s *Sink) Consume(ev session.Event) error {
	if err := s.db.RecordPose(ev); err != nil {
		return err
	}
	s.mu.Lock()
	s.written++
	s.mu.Unlock()
	return nil
}

// Written returns the number of rows inserted by this sink.
func (s *Sink) Written() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.written
}
