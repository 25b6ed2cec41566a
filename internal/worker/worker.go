// Package worker runs index rebuilds in the background of the HTTP server.
package worker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"

	"github.com/custodia-labs/hmo-assist/internal/core/domain"
	"github.com/custodia-labs/hmo-assist/internal/core/ports/driving"
	"github.com/custodia-labs/hmo-assist/internal/logging"
)

// DocumentSource loads the knowledge base
type DocumentSource interface {
	LoadDir(ctx context.Context, dir string) ([]*domain.SourceDocument, error)
}

// Worker rebuilds the index from the knowledge directory on demand and,
// optionally, whenever the directory changes.
// Rebuilds never overlap: triggers that arrive during a run coalesce into
// one follow-up run.
type Worker struct {
	source    DocumentSource
	ingestion driving.IngestionService
	dir       string
	watch     bool
	debounce  time.Duration
	logger    *zap.Logger

	trigger chan struct{}

	mu      sync.RWMutex
	running bool
	stopCh  chan struct{}
	doneCh  chan struct{}
	last    Status
}

// WorkerConfig holds configuration for the worker.
type WorkerConfig struct {
	Source       DocumentSource
	Ingestion    driving.IngestionService
	KnowledgeDir string
	Watch        bool          // Rebuild when files in KnowledgeDir change
	Debounce     time.Duration // Quiet period before a watched change triggers
	Logger       *zap.Logger
}

// Status describes the most recent rebuild.
type Status struct {
	Running    bool                    `json:"running"`
	Watching   bool                    `json:"watching"`
	LastRun    time.Time               `json:"last_run,omitempty"`
	LastReport *domain.IngestionReport `json:"last_report,omitempty"`
	LastError  string                  `json:"last_error,omitempty"`
}

// NewWorker creates a new rebuild worker.
func NewWorker(cfg WorkerConfig) *Worker {
	debounce := cfg.Debounce
	if debounce <= 0 {
		debounce = 2 * time.Second
	}
	return &Worker{
		source:    cfg.Source,
		ingestion: cfg.Ingestion,
		dir:       cfg.KnowledgeDir,
		watch:     cfg.Watch,
		debounce:  debounce,
		logger:    logging.OrNop(cfg.Logger),
		trigger:   make(chan struct{}, 1),
	}
}

// Start begins the worker loop and, if configured, the directory watcher.
// It runs until Stop is called or ctx is cancelled.
func (w *Worker) Start(ctx context.Context) error {
	w.mu.Lock()
	if w.running {
		w.mu.Unlock()
		return nil
	}

	var watcher *fsnotify.Watcher
	if w.watch {
		var err error
		if watcher, err = fsnotify.NewWatcher(); err != nil {
			w.mu.Unlock()
			return fmt.Errorf("create watcher: %w", err)
		}
		if err := watcher.Add(w.dir); err != nil {
			watcher.Close()
			w.mu.Unlock()
			return fmt.Errorf("watch %s: %w", w.dir, err)
		}
	}

	w.running = true
	w.stopCh = make(chan struct{})
	w.doneCh = make(chan struct{})
	w.mu.Unlock()

	w.logger.Info("worker starting", zap.String("dir", w.dir), zap.Bool("watch", w.watch))

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		w.processLoop(ctx)
	}()
	if watcher != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			defer watcher.Close()
			w.watchLoop(ctx, watcher)
		}()
	}

	go func() {
		wg.Wait()
		close(w.doneCh)
	}()
	return nil
}

// Stop gracefully stops the worker, waiting for a running rebuild.
func (w *Worker) Stop() {
	w.mu.Lock()
	if !w.running {
		w.mu.Unlock()
		return
	}
	close(w.stopCh)
	w.mu.Unlock()

	<-w.doneCh

	w.mu.Lock()
	w.running = false
	w.mu.Unlock()

	w.logger.Info("worker stopped")
}

// Wait blocks until the worker stops.
func (w *Worker) Wait() {
	w.mu.RLock()
	done := w.doneCh
	w.mu.RUnlock()
	if done != nil {
		<-done
	}
}

// Trigger requests a rebuild. Returns false if one is already pending.
func (w *Worker) Trigger() bool {
	select {
	case w.trigger <- struct{}{}:
		return true
	default:
		return false
	}
}

// RunOnce loads the knowledge directory and replaces the index.
func (w *Worker) RunOnce(ctx context.Context) (*domain.IngestionReport, error) {
	docs, err := w.source.LoadDir(ctx, w.dir)
	if err == nil {
		var report *domain.IngestionReport
		report, err = w.ingestion.Ingest(ctx, docs)
		if err == nil {
			w.record(report, nil)
			return report, nil
		}
	}
	w.record(nil, err)
	return nil, err
}

func (w *Worker) record(report *domain.IngestionReport, err error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.last.LastRun = time.Now().UTC()
	w.last.LastReport = report
	w.last.LastError = ""
	if err != nil {
		w.last.LastError = err.Error()
	}
}

// processLoop runs one rebuild per trigger.
func (w *Worker) processLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			w.logger.Info("worker context cancelled")
			return
		case <-w.stopCh:
			return
		case <-w.trigger:
		}

		start := time.Now()
		report, err := w.RunOnce(ctx)
		switch {
		case errors.Is(err, domain.ErrIngestionInProgress):
			w.logger.Info("rebuild skipped, another instance is ingesting")
		case err != nil:
			w.logger.Error("rebuild failed", zap.Error(err), zap.Duration("duration", time.Since(start)))
		default:
			w.logger.Info("rebuild completed",
				zap.Int("documents", report.Documents),
				zap.Int("chunks", report.Counts.Total()),
				zap.Duration("duration", time.Since(start)),
			)
		}
	}
}

// watchLoop turns bursts of file events into one trigger after the
// debounce period.
func (w *Worker) watchLoop(ctx context.Context, watcher *fsnotify.Watcher) {
	timer := time.NewTimer(w.debounce)
	if !timer.Stop() {
		<-timer.C
	}
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-w.stopCh:
			return
		case ev, ok := <-watcher.Events:
			if !ok {
				return
			}
			if !relevant(ev) {
				continue
			}
			w.logger.Debug("knowledge file changed", zap.String("file", ev.Name), zap.String("op", ev.Op.String()))
			timer.Reset(w.debounce)
		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}
			w.logger.Warn("watcher error", zap.Error(err))
		case <-timer.C:
			w.Trigger()
		}
	}
}

func relevant(ev fsnotify.Event) bool {
	return ev.Has(fsnotify.Create) || ev.Has(fsnotify.Write) || ev.Has(fsnotify.Remove) || ev.Has(fsnotify.Rename)
}

// Health returns the worker state and the last rebuild outcome.
func (w *Worker) Health() Status {
	w.mu.RLock()
	defer w.mu.RUnlock()
	s := w.last
	s.Running = w.running
	s.Watching = w.running && w.watch
	return s
}
