// Package web serves the live view of a classification session: an echarts
// heatmap of the latest frame, JSON endpoints, a server-sent event stream of
// results and the prometheus metrics.
package web

import (
	"bytes"
	crand "crypto/rand"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/opts"

	"github.com/banshee-data/posemat/internal/httputil"
	"github.com/banshee-data/posemat/internal/monitoring"
	"github.com/banshee-data/posemat/internal/posemat/l2frames"
	"github.com/banshee-data/posemat/internal/posemat/l3classify"
	"github.com/banshee-data/posemat/internal/posemat/session"
	"github.com/banshee-data/posemat/internal/version"
)

// subscriberBuffer is the per-client event backlog. Slow clients lose events
// rather than stall the session.
const subscriberBuffer = 16

var heatColors = []string{"#000000", "#3b0f70", "#8c2981", "#de4968", "#fe9f6d", "#fcfdbf"}

// Config wires a Server to the running session.
type Config struct {
	Labels l3classify.LabelSet
	// Stats reports the session counters for /api/stats. Optional.
	Stats func() session.Stats
	// Metrics is served at /metrics when set.
	Metrics *monitoring.Metrics
	// AssetsHost overrides the echarts asset location.
	AssetsHost string
}

// EventPayload is the JSON form of a session event.
type EventPayload struct {
	Seq           uint64                            `json:"seq"`
	Time          time.Time                         `json:"time"`
	SessionID     string                            `json:"session_id"`
	Label         string                            `json:"label"`
	Index         int                               `json:"index"`
	Confidence    float64                           `json:"confidence"`
	Percent       float64                           `json:"percent"`
	Rejected      bool                              `json:"rejected"`
	Probabilities []float64                         `json:"probabilities"`
	Grid          [l2frames.Rows][l2frames.Cols]int `json:"grid"`
}

// NewEventPayload converts ev for the JSON endpoints.
func NewEventPayload(ev session.Event) EventPayload {
	return EventPayload{
		Seq:           ev.Seq,
		Time:          ev.Time,
		SessionID:     ev.SessionID.String(),
		Label:         ev.Result.Label,
		Index:         ev.Result.Index,
		Confidence:    ev.Result.Confidence,
		Percent:       ev.Result.Percent(),
		Rejected:      ev.Result.Rejected,
		Probabilities: ev.Result.Probabilities,
		Grid:          ev.Reading.Grid(),
	}
}

// Server is both a session sink and the HTTP front end for it.
type Server struct {
	cfg  Config
	logf func(format string, v ...interface{})

	mu     sync.RWMutex
	latest *session.Event
	counts map[string]uint64

	subscriberMu sync.Mutex
	subscribers  map[string]chan []byte
}

// New returns a Server with no event yet.
func New(cfg Config) *Server {
	return &Server{
		cfg:         cfg,
		logf:        monitoring.Component("web"),
		counts:      make(map[string]uint64),
		subscribers: make(map[string]chan []byte),
	}
}

// Name implements session.Named.
func (s *Server) Name() string { return "web" }

// Consume records ev as the latest event and fans it out to event-stream
// subscribers.
func (s *Server) Consume(ev session.Event) error {
	payload, err := json.Marshal(NewEventPayload(ev))
	if err != nil {
		return fmt.Errorf("encode event %d: %w", ev.Seq, err)
	}

	s.mu.Lock()
	s.latest = &ev
	s.counts[ev.Result.Label]++
	s.mu.Unlock()

	s.subscriberMu.Lock()
	defer s.subscriberMu.Unlock()
	for id, ch := range s.subscribers {
		select {
		case ch <- payload:
		default:
			s.logf("subscriber %s is behind, dropping seq %d", id, ev.Seq)
		}
	}
	return nil
}

// Latest returns the most recent event.
func (s *Server) Latest() (session.Event, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.latest == nil {
		return session.Event{}, false
	}
	return *s.latest, true
}

// LabelCounts returns how many events carried each label.
func (s *Server) LabelCounts() map[string]uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]uint64, len(s.counts))
	for k, v := range s.counts {
		out[k] = v
	}
	return out
}

// Subscribe registers an event-stream client.
func (s *Server) Subscribe() (string, chan []byte) {
	id := randomID()
	ch := make(chan []byte, subscriberBuffer)
	s.subscriberMu.Lock()
	defer s.subscriberMu.Unlock()
	s.subscribers[id] = ch
	return id, ch
}

// Unsubscribe removes and closes a subscriber.
func (s *Server) Unsubscribe(id string) {
	s.subscriberMu.Lock()
	defer s.subscriberMu.Unlock()
	if ch, ok := s.subscribers[id]; ok {
		close(ch)
		delete(s.subscribers, id)
	}
}

// Subscribers returns the number of connected event-stream clients.
func (s *Server) Subscribers() int {
	s.subscriberMu.Lock()
	defer s.subscriberMu.Unlock()
	return len(s.subscribers)
}

// Close disconnects all subscribers.
func (s *Server) Close() error {
	s.subscriberMu.Lock()
	defer s.subscriberMu.Unlock()
	for id, ch := range s.subscribers {
		close(ch)
		delete(s.subscribers, id)
	}
	return nil
}

func randomID() string {
	b := make([]byte, 8)
	crand.Read(b)
	return hex.EncodeToString(b)
}

// Attach registers the routes on mux.
func (s *Server) Attach(mux *http.ServeMux) {
	mux.HandleFunc("/", s.handleIndex)
	mux.HandleFunc("/api/latest", s.handleLatest)
	mux.HandleFunc("/api/stats", s.handleStats)
	mux.HandleFunc("/api/events", s.handleEvents)
	mux.HandleFunc("/api/version", s.handleVersion)
	if s.cfg.Metrics != nil {
		mux.Handle("/metrics", s.cfg.Metrics.Handler())
	}
}

// Handler returns a mux carrying only this server's routes.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	s.Attach(mux)
	return mux
}

// handleIndex renders the latest frame as an echarts heatmap. The optional
// refresh query parameter asks the browser to reload every N seconds.
func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		httputil.NotFound(w, "not found")
		return
	}
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w)
		return
	}

	var buf bytes.Buffer
	if err := s.renderChart(&buf); err != nil {
		httputil.WriteJSONError(w, http.StatusInternalServerError, fmt.Sprintf("failed to render chart: %v", err))
		return
	}

	if v := r.URL.Query().Get("refresh"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			w.Header().Set("Refresh", strconv.Itoa(n))
		}
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = w.Write(buf.Bytes())
}

func (s *Server) renderChart(buf *bytes.Buffer) error {
	ev, ok := s.Latest()
	title, subtitle := "Waiting for data", s.cfg.Labels.String()
	if ok {
		title = fmt.Sprintf("Pose: %s (%.2f%%)", ev.Result.Label, ev.Result.Percent())
		subtitle = fmt.Sprintf("seq=%d %s", ev.Seq, ev.Time.Format(time.RFC3339))
	}

	cols := make([]string, l2frames.Cols)
	for c := range cols {
		cols[c] = strconv.Itoa(c)
	}
	rows := make([]string, l2frames.Rows)
	for r := range rows {
		rows[r] = strconv.Itoa(r)
	}

	data := make([]opts.HeatMapData, 0, l2frames.Size)
	for r := 0; r < l2frames.Rows; r++ {
		for c := 0; c < l2frames.Cols; c++ {
			data = append(data, opts.HeatMapData{Value: [3]interface{}{c, r, ev.Reading.At(r, c)}})
		}
	}

	initOpts := opts.Initialization{PageTitle: "posemat", Width: "600px", Height: "760px"}
	if s.cfg.AssetsHost != "" {
		initOpts.AssetsHost = s.cfg.AssetsHost
	}

	hm := charts.NewHeatMap()
	hm.SetGlobalOptions(
		charts.WithInitializationOpts(initOpts),
		charts.WithTitleOpts(opts.Title{Title: title, Subtitle: subtitle}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true)}),
		charts.WithXAxisOpts(opts.XAxis{Type: "category", Data: cols, Name: "column", SplitArea: &opts.SplitArea{Show: opts.Bool(true)}}),
		// Row 0 at the top.
		charts.WithYAxisOpts(opts.YAxis{Type: "category", Data: rows, Name: "row", Inverse: opts.Bool(true), SplitArea: &opts.SplitArea{Show: opts.Bool(true)}}),
		charts.WithVisualMapOpts(opts.VisualMap{
			Calculable: opts.Bool(true),
			Min:        0,
			Max:        l2frames.MaxValue,
			InRange:    &opts.VisualMapInRange{Color: heatColors},
		}),
	)
	hm.SetXAxis(cols).AddSeries("pressure", data)
	return hm.Render(buf)
}

func (s *Server) handleLatest(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w)
		return
	}
	ev, ok := s.Latest()
	if !ok {
		httputil.NotFound(w, "no frames classified yet")
		return
	}
	httputil.WriteJSONOK(w, NewEventPayload(ev))
}

// StatsPayload is the /api/stats response.
type StatsPayload struct {
	Labels      []string          `json:"labels"`
	LabelSet    string            `json:"label_set"`
	Counts      map[string]uint64 `json:"counts"`
	Session     *session.Stats    `json:"session,omitempty"`
	Subscribers int               `json:"subscribers"`
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w)
		return
	}
	out := StatsPayload{
		Labels:      s.cfg.Labels.Labels,
		LabelSet:    s.cfg.Labels.String(),
		Counts:      s.LabelCounts(),
		Subscribers: s.Subscribers(),
	}
	if s.cfg.Stats != nil {
		st := s.cfg.Stats()
		out.Session = &st
	}
	httputil.WriteJSONOK(w, out)
}

func (s *Server) handleVersion(w http.ResponseWriter, r *http.Request) {
	httputil.WriteJSONOK(w, map[string]string{
		"version":    version.Version,
		"git_sha":    version.GitSHA,
		"build_time": version.BuildTime,
	})
}

// handleEvents streams events as server-sent events.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w)
		return
	}
	// Subscribe before the opening ping so a client that has seen it
	// receives every later event.
	id, c := s.Subscribe()
	defer s.Unsubscribe(id)

	stream, ok := httputil.StartEventStream(w)
	if !ok {
		return
	}

	for {
		select {
		case payload, ok := <-c:
			if !ok {
				return
			}
			if err := stream.Send("pose", payload); err != nil {
				return
			}
		case <-r.Context().Done():
			return
		}
	}
}
