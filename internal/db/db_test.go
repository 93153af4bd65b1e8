package db

import (
	"compress/gzip"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/banshee-data/posemat/internal/monitoring"
	"github.com/banshee-data/posemat/internal/posemat/l2frames"
	"github.com/banshee-data/posemat/internal/posemat/l3classify"
	"github.com/banshee-data/posemat/internal/posemat/session"
)

func TestMain(m *testing.M) {
	monitoring.SetLogger(nil)
	m.Run()
}

func newTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := NewDB(filepath.Join(t.TempDir(), "posemat.db"))
	if err != nil {
		t.Fatalf("NewDB failed: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func testEvent(sid uuid.UUID, seq uint64, label string, idx int, conf float64) session.Event {
	var r l2frames.Reading
	for i := range r {
		r[i] = int(seq)*100 + i
	}
	return session.Event{
		Seq:       seq,
		Time:      time.Unix(1700000000, int64(seq)),
		SessionID: sid,
		Reading:   r,
		Result: l3classify.Result{
			Label:      label,
			Index:      idx,
			Confidence: conf,
			Rejected:   idx < 0,
		},
	}
}

func TestMigrateVersion(t *testing.T) {
	db := newTestDB(t)

	latest, err := LatestMigrationVersion()
	if err != nil {
		t.Fatalf("LatestMigrationVersion failed: %v", err)
	}
	if latest != 2 {
		t.Errorf("latest = %d, want 2", latest)
	}

	version, dirty, err := db.MigrateVersion()
	if err != nil {
		t.Fatalf("MigrateVersion failed: %v", err)
	}
	if version != latest || dirty {
		t.Errorf("version = %d dirty = %v, want %d clean", version, dirty, latest)
	}

	// Up again is a no-op.
	if err := db.MigrateUp(); err != nil {
		t.Errorf("second MigrateUp failed: %v", err)
	}
}

func TestMigrateDown(t *testing.T) {
	db := newTestDB(t)

	if err := db.MigrateDown(); err != nil {
		t.Fatalf("MigrateDown failed: %v", err)
	}
	version, _, err := db.MigrateVersion()
	if err != nil {
		t.Fatalf("MigrateVersion failed: %v", err)
	}
	if version != 1 {
		t.Errorf("version after down = %d, want 1", version)
	}

	var n int
	err = db.QueryRow(`SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name='pose_log'`).Scan(&n)
	if err != nil {
		t.Fatal(err)
	}
	if n != 0 {
		t.Error("pose_log table still present after rolling back")
	}

	if err := db.MigrateUp(); err != nil {
		t.Fatalf("MigrateUp failed: %v", err)
	}
	if _, err := db.LabelCounts(nil); err != nil {
		t.Errorf("pose_log not restored: %v", err)
	}
}

func TestOpenDB_NoMigrations(t *testing.T) {
	db, err := OpenDB(filepath.Join(t.TempDir(), "raw.db"))
	if err != nil {
		t.Fatalf("OpenDB failed: %v", err)
	}
	defer db.Close()

	version, dirty, err := db.MigrateVersion()
	if err != nil {
		t.Fatalf("MigrateVersion failed: %v", err)
	}
	if version != 0 || dirty {
		t.Errorf("fresh database version = %d dirty = %v", version, dirty)
	}
}

func TestRecordPose_RoundTrip(t *testing.T) {
	db := newTestDB(t)
	sid := uuid.New()

	want := testEvent(sid, 7, "hand_pressed", 1, 0.875)
	if err := db.RecordPose(want); err != nil {
		t.Fatalf("RecordPose failed: %v", err)
	}

	got, err := db.RecentPoses(nil, 10)
	if err != nil {
		t.Fatalf("RecentPoses failed: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("got %d rows, want 1", len(got))
	}
	rec := got[0]
	if rec.SessionID != sid || rec.Seq != 7 || rec.Label != "hand_pressed" || rec.LabelIndex != 1 {
		t.Errorf("unexpected record: %+v", rec)
	}
	if rec.Confidence != 0.875 || rec.Rejected {
		t.Errorf("confidence/rejected = %v/%v", rec.Confidence, rec.Rejected)
	}
	if !rec.Time.Equal(want.Time) {
		t.Errorf("time = %v, want %v", rec.Time, want.Time)
	}
	if rec.Reading != want.Reading {
		t.Errorf("reading = %v, want %v", rec.Reading, want.Reading)
	}
}

func TestRecentPoses(t *testing.T) {
	db := newTestDB(t)
	a, b := uuid.New(), uuid.New()

	for seq := uint64(1); seq <= 5; seq++ {
		if err := db.RecordPose(testEvent(a, seq, "empty", 0, 0.9)); err != nil {
			t.Fatal(err)
		}
	}
	if err := db.RecordPose(testEvent(b, 1, "unknown", -1, 0.4)); err != nil {
		t.Fatal(err)
	}

	recent, err := db.RecentPoses(&a, 3)
	if err != nil {
		t.Fatalf("RecentPoses failed: %v", err)
	}
	if len(recent) != 3 {
		t.Fatalf("got %d rows, want 3", len(recent))
	}
	for i, want := range []uint64{5, 4, 3} {
		if recent[i].Seq != want {
			t.Errorf("row %d seq = %d, want %d", i, recent[i].Seq, want)
		}
	}

	other, err := db.RecentPoses(&b, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(other) != 1 || !other[0].Rejected || other[0].LabelIndex != -1 {
		t.Errorf("rejected row not preserved: %+v", other)
	}

	if _, err := db.RecentPoses(nil, 0); err == nil {
		t.Error("expected error for zero limit")
	}
}

func TestLabelCounts(t *testing.T) {
	db := newTestDB(t)
	sid := uuid.New()

	labels := []string{"empty", "hand_pressed", "empty", "empty", "hand_pressed", "unknown"}
	for i, l := range labels {
		if err := db.RecordPose(testEvent(sid, uint64(i+1), l, 0, 0.5)); err != nil {
			t.Fatal(err)
		}
	}

	counts, err := db.LabelCounts(&sid)
	if err != nil {
		t.Fatalf("LabelCounts failed: %v", err)
	}
	want := []LabelCount{{"empty", 3}, {"hand_pressed", 2}, {"unknown", 1}}
	if len(counts) != len(want) {
		t.Fatalf("counts = %v, want %v", counts, want)
	}
	for i := range want {
		if counts[i] != want[i] {
			t.Errorf("counts[%d] = %v, want %v", i, counts[i], want[i])
		}
	}

	none := uuid.New()
	empty, err := db.LabelCounts(&none)
	if err != nil {
		t.Fatal(err)
	}
	if len(empty) != 0 {
		t.Errorf("unknown session counts = %v", empty)
	}
}

func TestRecordSession(t *testing.T) {
	db := newTestDB(t)
	labels := l3classify.LabelSet{Name: "poses", Version: 1, Labels: []string{"empty", "hand_pressed"}}

	first, second := uuid.New(), uuid.New()
	t0 := time.Unix(1700000000, 0)
	if err := db.RecordSession(first, t0, labels, "models/pose_model.json"); err != nil {
		t.Fatalf("RecordSession failed: %v", err)
	}
	if err := db.RecordSession(second, t0.Add(time.Minute), labels, "models/pose_model.json"); err != nil {
		t.Fatalf("RecordSession failed: %v", err)
	}

	sessions, err := db.Sessions()
	if err != nil {
		t.Fatalf("Sessions failed: %v", err)
	}
	if len(sessions) != 2 {
		t.Fatalf("got %d sessions, want 2", len(sessions))
	}
	if sessions[0].ID != second || sessions[1].ID != first {
		t.Errorf("sessions not newest first: %v", sessions)
	}
	if sessions[0].LabelSet != "poses@v1[empty,hand_pressed]" {
		t.Errorf("label set = %q", sessions[0].LabelSet)
	}
}

func TestDecodeValues_Corrupt(t *testing.T) {
	if _, err := decodeValues("1,2,3"); !errors.Is(err, l2frames.ErrFieldCount) {
		t.Errorf("short row: err = %v, want ErrFieldCount", err)
	}

	var r l2frames.Reading
	s := encodeValues(r)
	if _, err := decodeValues("x" + s[1:]); !errors.Is(err, l2frames.ErrNotInteger) {
		t.Errorf("non-integer row: err = %v, want ErrNotInteger", err)
	}
}

func TestSink(t *testing.T) {
	db := newTestDB(t)
	sink := NewSink(db)

	if got := session.SinkName(sink); got != "db" {
		t.Errorf("SinkName = %q, want db", got)
	}

	sid := uuid.New()
	for seq := uint64(1); seq <= 3; seq++ {
		if err := sink.Consume(testEvent(sid, seq, "empty", 0, 1)); err != nil {
			t.Fatalf("Consume failed: %v", err)
		}
	}
	if sink.Written() != 3 {
		t.Errorf("Written = %d, want 3", sink.Written())
	}

	db.Close()
	if err := sink.Consume(testEvent(sid, 4, "empty", 0, 1)); err == nil {
		t.Error("expected error after database closed")
	}
	if sink.Written() != 3 {
		t.Errorf("Written after failure = %d, want 3", sink.Written())
	}
}

func TestServeBackup(t *testing.T) {
	db := newTestDB(t)
	if err := db.RecordPose(testEvent(uuid.New(), 1, "empty", 0, 1)); err != nil {
		t.Fatal(err)
	}

	rec := httptest.NewRecorder()
	db.serveBackup(rec, httptest.NewRequest(http.MethodGet, "/debug/backup", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}
	gz, err := gzip.NewReader(rec.Body)
	if err != nil {
		t.Fatalf("response is not gzip: %v", err)
	}
	data, err := io.ReadAll(gz)
	if err != nil {
		t.Fatal(err)
	}
	if len(data) < 16 || string(data[:15]) != "SQLite format 3" {
		t.Errorf("backup does not look like a SQLite file (%d bytes)", len(data))
	}
}

func TestAttachAdminRoutes(t *testing.T) {
	db := newTestDB(t)
	mux := http.NewServeMux()
	if err := db.AttachAdminRoutes(mux); err != nil {
		t.Fatalf("AttachAdminRoutes failed: %v", err)
	}
}
