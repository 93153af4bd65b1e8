package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/banshee-data/posemat/internal/config"
	"github.com/banshee-data/posemat/internal/db"
	"github.com/banshee-data/posemat/internal/monitoring"
	"github.com/banshee-data/posemat/internal/posemat/session"
	"github.com/banshee-data/posemat/internal/sink/console"
	"github.com/banshee-data/posemat/internal/sink/csvlog"
	"github.com/banshee-data/posemat/internal/sink/heatmap"
	"github.com/banshee-data/posemat/internal/visualiser"
	"github.com/banshee-data/posemat/internal/web"
)

// sinkSet collects the configured sinks and everything that must be closed
// once the session ends.
type sinkSet struct {
	sinks   []session.Sink
	closers []io.Closer
}

func (s *sinkSet) add(sink session.Sink, closer io.Closer) {
	s.sinks = append(s.sinks, sink)
	if closer != nil {
		s.closers = append(s.closers, closer)
	}
}

// slow wraps sink in an async queue when the config asks for it.
func (s *sinkSet) slow(cfg *config.Config, metrics *monitoring.Metrics, sink session.Sink, closer io.Closer) {
	if !cfg.GetAsyncSinks() {
		s.add(sink, closer)
		return
	}
	name := session.SinkName(sink)
	a := session.NewAsync(sink,
		session.WithQueueSize(cfg.GetQueueSize()),
		session.WithOverflow(cfg.GetOverflow()),
		session.WithMetrics(metrics),
		session.WithOnError(func(err error) { log.Printf("sink %s: %v", name, err) }),
	)
	// Async.Close drains the queue and closes the wrapped sink.
	s.add(a, a)
}

// close releases sinks in reverse order of creation.
func (s *sinkSet) close() {
	for i := len(s.closers) - 1; i >= 0; i-- {
		if err := s.closers[i].Close(); err != nil {
			log.Printf("close sink: %v", err)
		}
	}
}

// run wires the configured sinks and servers around one session and blocks
// until the session ends. A nil return means ctx was cancelled.
func run(ctx context.Context, cfg *config.Config, src io.Reader, clf session.Classifier, stdout io.Writer) error {
	metrics := monitoring.NewMetrics()
	var set sinkSet
	defer set.close()

	if cfg.GetConsole() {
		set.add(console.New(stdout), nil)
	}

	if c := cfg.GetCSVLog(); c.Enabled {
		s, err := csvlog.Open(c.Path)
		if err != nil {
			return err
		}
		set.slow(cfg, metrics, s, s)
		log.Printf("logging results to %s", c.Path)
	}

	if h := cfg.GetHeatmap(); h.Enabled {
		s, err := heatmap.New(h.Path, h.Every, h.Size)
		if err != nil {
			return err
		}
		set.slow(cfg, metrics, s, nil)
		log.Printf("rendering heatmap to %s every %d frames", h.Path, h.Every)
	}

	var database *db.DB
	if d := cfg.GetDB(); d.Enabled {
		var err error
		database, err = db.NewDB(d.Path)
		if err != nil {
			return fmt.Errorf("failed to open database: %w", err)
		}
		// Closed after the sink queue in front of it has drained.
		set.closers = append(set.closers, database)
		set.slow(cfg, metrics, db.NewSink(database), nil)
		log.Printf("recording results to %s", d.Path)
	}

	// Stats closes over sess, which is set before any request can arrive.
	var sess *session.Session
	webServer := web.New(web.Config{
		Labels:  cfg.Labels,
		Metrics: metrics,
		Stats:   func() session.Stats { return sess.Stats() },
	})
	defer webServer.Close()
	httpAddr := cfg.GetListen()
	if httpAddr != "" {
		set.add(webServer, nil)
	}

	if addr := cfg.GetGRPCListen(); addr != "" {
		vcfg := visualiser.DefaultConfig()
		vcfg.ListenAddr = addr
		pub := visualiser.NewPublisher(vcfg)
		if err := pub.Start(); err != nil {
			return fmt.Errorf("failed to start gRPC publisher: %w", err)
		}
		defer pub.Stop()
		set.add(pub, nil)
		log.Printf("gRPC pose stream listening on %s", pub.Addr())
	}

	scfg := cfg.SessionConfig()
	scfg.Metrics = metrics
	var err error
	sess, err = session.New(src, clf, scfg, set.sinks...)
	if err != nil {
		return err
	}
	log.Printf("session %s started", sess.ID())

	if database != nil {
		if err := database.RecordSession(sess.ID(), time.Now(), cfg.Labels, cfg.GetModelManifest()); err != nil {
			log.Printf("failed to record session: %v", err)
		}
	}

	var wg sync.WaitGroup
	if httpAddr != "" {
		mux := http.NewServeMux()
		webServer.Attach(mux)
		if database != nil {
			if err := database.AttachAdminRoutes(mux); err != nil {
				return fmt.Errorf("failed to attach admin routes: %w", err)
			}
		}
		server := &http.Server{Addr: httpAddr, Handler: mux}

		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.Printf("HTTP server error: %v", err)
			}
		}()
		log.Printf("HTTP server listening on %s", httpAddr)

		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 1*time.Second)
			defer cancel()
			if err := server.Shutdown(shutdownCtx); err != nil {
				log.Printf("HTTP server shutdown error: %v", err)
				server.Close()
			}
			wg.Wait()
		}()
	}

	err = sess.Run(ctx)
	st := sess.Stats()
	log.Printf("session %s ended: %d frames, %d classified, %d rejected, %d decode errors, %d inference errors",
		sess.ID(), st.Frames, st.Classified, st.Rejected, st.DecodeErrors, st.InferenceErrors)
	return err
}
