// Package server runs the long-lived twin service: a watcher on the
// trace directory feeds newly dropped trace files through a bounded
// queue into an import worker, while the bus connector reacts to
// platform messages.
package server

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog/log"

	"github.com/twinfra/tracetwin/internal/app"
	"github.com/twinfra/tracetwin/internal/config"
	"github.com/twinfra/tracetwin/internal/exn"
	"github.com/twinfra/tracetwin/internal/ingest"
	"github.com/twinfra/tracetwin/internal/journal"
	"github.com/twinfra/tracetwin/internal/msglog"
	"github.com/twinfra/tracetwin/internal/store"
)

// Server wires the trace intake pipeline and the bus connector.
type Server struct {
	cfg      *config.Config
	store    store.EventStore
	journal  *journal.Journal
	registry *app.Registry
	msgs     msglog.Dir

	queue     chan string
	producers sync.WaitGroup // watcher goroutine
	workers   sync.WaitGroup // import worker
}

// New builds a Server around an initialized event store and journal.
func New(cfg *config.Config, s store.EventStore, j *journal.Journal, msgs msglog.Dir) *Server {
	return &Server{
		cfg:      cfg,
		store:    s,
		journal:  j,
		registry: app.NewRegistry(),
		msgs:     msgs,
		queue:    make(chan string, cfg.QueueSize),
	}
}

// Run starts the import worker, the directory watcher, and (when bus
// credentials are configured) the connector, then blocks until ctx is
// cancelled. Trace files already sitting in the directory at startup
// are imported first.
func (s *Server) Run(ctx context.Context) error {
	if err := s.store.Init(ctx, store.Append); err != nil {
		return fmt.Errorf("failed to initialize event store: %w", err)
	}

	s.workers.Add(1)
	go s.importWorker(ctx)

	if s.cfg.TraceDir != "" {
		if err := s.watchTraceDir(ctx); err != nil {
			return err
		}
	}

	var connector *exn.Connector
	if s.cfg.BusConfigured() {
		connector = exn.New(exn.Config{
			Host:     s.cfg.AMQPHost,
			Port:     s.cfg.AMQPPort,
			User:     s.cfg.AMQPUser,
			Password: s.cfg.AMQPPassword,
			AppID:    s.cfg.AppID,
		})
		s.registerHandlers(connector)
		if err := connector.Start(ctx); err != nil {
			return err
		}
	} else {
		log.Info().Msg("No bus credentials configured, running standalone")
	}

	log.Info().Str("trace_dir", s.cfg.TraceDir).Msg("Server started")
	<-ctx.Done()

	if connector != nil {
		connector.Stop(context.Background())
	}
	// The watcher must stop producing before the queue can close.
	s.producers.Wait()
	close(s.queue)
	s.workers.Wait()
	log.Info().Msg("Server stopped")
	return nil
}

// watchTraceDir enqueues existing trace files and then watches for new
// ones. Files are enqueued on creation; producers are expected to move
// finished files into the directory atomically.
func (s *Server) watchTraceDir(ctx context.Context) error {
	entries, err := os.ReadDir(s.cfg.TraceDir)
	if err != nil {
		return fmt.Errorf("failed to read trace directory %s: %w", s.cfg.TraceDir, err)
	}
	for _, entry := range entries {
		if !entry.IsDir() && isTraceFile(entry.Name()) {
			s.enqueue(filepath.Join(s.cfg.TraceDir, entry.Name()))
		}
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create trace watcher: %w", err)
	}
	if err := watcher.Add(s.cfg.TraceDir); err != nil {
		watcher.Close()
		return fmt.Errorf("failed to watch %s: %w", s.cfg.TraceDir, err)
	}

	s.producers.Add(1)
	go func() {
		defer s.producers.Done()
		defer watcher.Close()
		for {
			select {
			case <-ctx.Done():
				return
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if event.Has(fsnotify.Create) && isTraceFile(event.Name) {
					s.enqueue(event.Name)
				}
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				log.Error().Err(err).Msg("Trace watcher error")
			}
		}
	}()
	return nil
}

// enqueue adds a file to the import queue, dropping it with a warning
// when the queue is full. The file stays on disk, so a dropped entry is
// picked up again on the next restart.
func (s *Server) enqueue(path string) {
	select {
	case s.queue <- path:
		log.Debug().Str("file", path).Msg("Trace file queued for import")
	default:
		log.Warn().Str("file", path).Msg("Import queue full, file left on disk")
	}
}

func (s *Server) importWorker(ctx context.Context) {
	defer s.workers.Done()
	for path := range s.queue {
		if ctx.Err() != nil {
			return
		}
		s.importFile(ctx, path)
	}
}

// importFile ingests one trace file, records the import in the journal,
// and deletes the file. A failed import leaves the file in place for
// the next restart.
func (s *Server) importFile(ctx context.Context, path string) {
	rows, err := ingest.IngestFile(ctx, s.store, path, store.Append)
	if err != nil {
		log.Error().Err(err).Str("file", path).Msg("Trace import failed")
		return
	}
	if err := s.journal.Record(path, rows); err != nil {
		log.Error().Err(err).Str("file", path).Msg("Failed to journal import")
	}
	if err := os.Remove(path); err != nil {
		log.Warn().Err(err).Str("file", path).Msg("Failed to remove imported trace file")
	}
	log.Info().Str("file", path).Int64("rows", rows).Msg("Trace file imported")
}

func isTraceFile(name string) bool {
	return strings.HasSuffix(name, ".jsonl")
}

// ----------------------------------------
// Bus message handlers

func (s *Server) registerHandlers(c *exn.Connector) {
	c.Handle(exn.TwinInitTopic, s.handleInit)
	c.Handle(exn.PerformanceIndicatorsTopic, s.handlePerformanceIndicators)
	c.Handle(exn.SolverSolutionTopic, s.handleSolverSolution)
	c.Handle(exn.AppStatusTopic, s.handleAppStatus)
}

// handleInit processes the initialization message the controller sends
// after seeing our started announcement. The "dsl" key holds the app
// creation message, the "solution" key the synthetic solver message
// with the initial deployment.
func (s *Server) handleInit(ctx context.Context, msg exn.Message) {
	var body struct {
		DSL      json.RawMessage `json:"dsl"`
		Solution json.RawMessage `json:"solution"`
	}
	if err := json.Unmarshal(msg.Body, &body); err != nil {
		log.Error().Err(err).Msg("Malformed initialization message")
		return
	}
	a, err := app.FromAppMessage(body.DSL)
	if err != nil {
		log.Error().Err(err).Msg("Could not parse app creation message in init")
		return
	}
	s.msgs.Write("init-message-"+a.UUID+".json", msg.Body)
	s.registry.Put(a)
	log.Info().Str("app_id", a.UUID).Str("app_name", a.Name).Msg("Twin initialized for application")

	if len(body.Solution) > 0 {
		s.applySolution(a, body.Solution)
	}
}

func (s *Server) handlePerformanceIndicators(ctx context.Context, msg exn.Message) {
	if msg.AppID == "" {
		log.Error().Msg("Received performance indicator message without application property, dropping")
		return
	}
	s.msgs.Write("performance-indicators-"+msg.AppID+".json", msg.Body)
	log.Debug().Str("app_id", msg.AppID).Msg("Stored performance indicators")
}

// handleSolverSolution applies a solver solution to the registered
// application, yielding the deployment the next simulation runs
// against.
func (s *Server) handleSolverSolution(ctx context.Context, msg exn.Message) {
	if msg.AppID == "" {
		log.Warn().Msg("Received solver solution without application property, discarding")
		return
	}
	s.msgs.Write("solver-solution-"+msg.AppID+".json", msg.Body)

	a, ok := s.registry.Get(msg.AppID)
	if !ok {
		log.Warn().Str("app_id", msg.AppID).Msg("Solver solution for unknown application, discarding")
		return
	}
	s.applySolution(a, msg.Body)
}

func (s *Server) applySolution(a *app.App, solution json.RawMessage) {
	var body struct {
		Application    string         `json:"application"`
		VariableValues map[string]any `json:"VariableValues"`
	}
	if err := json.Unmarshal(solution, &body); err != nil {
		log.Error().Err(err).Str("app_id", a.UUID).Msg("Malformed solver solution")
		return
	}
	if body.Application != "" && body.Application != a.UUID {
		log.Error().
			Str("solution_app_id", body.Application).
			Str("app_id", a.UUID).
			Msg("Solver solution addressed to a different application, discarding")
		return
	}
	rewritten := a.RewriteWithSolution(body.VariableValues)
	reqs := app.ComponentRequirements(rewritten)
	log.Info().
		Str("app_id", a.UUID).
		Int("components", len(reqs)).
		Msg("Applied solver solution to deployment")
}

func (s *Server) handleAppStatus(ctx context.Context, msg exn.Message) {
	if msg.AppID == "" {
		log.Warn().Msg("Received app state without application property, discarding")
		return
	}
	var body struct {
		State string `json:"state"`
	}
	if err := json.Unmarshal(msg.Body, &body); err != nil {
		log.Error().Err(err).Str("app_id", msg.AppID).Msg("Malformed app state message")
		return
	}
	// Redeployments suspend simulation; nothing to do yet beyond noting it.
	log.Info().Str("app_id", msg.AppID).Str("state", body.State).Msg("Application state changed")
}
