// Package worker is the request dispatcher of the board viewer.
//
// A Worker owns the board store and runs every non-presentational flow:
// importing designs from files or links, rendering, packaging, persisting,
// and pushing artifacts and comments to the remote service. Callers talk to
// it only through messages: Submit queues a Request, and results arrive as
// Notifications.
//
// Run opens the store and announces readiness with workerInitialized before
// any queued request is handled. Requests submitted earlier wait in the
// queue. When the store cannot be opened, every request is answered with a
// StorageUnavailable error instead. Requests still queued when Run stops are
// answered with ErrStopped.
//
// Each request runs in its own goroutine; steps within a request are
// sequential, so boardRendered always precedes boardUpdated for the same
// request. Requests are not ordered against each other, except that imports
// of the same URL run one at a time so a link never yields two boards. Two
// concurrent updates of the same board race and the last save wins.
package worker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"

	"github.com/pcbview/boardworker/internal/board"
	"github.com/pcbview/boardworker/internal/pipeline"
	"github.com/pcbview/boardworker/internal/remote"
	"github.com/pcbview/boardworker/internal/render"
	"github.com/pcbview/boardworker/internal/store"
)

// ErrStopped is returned by Submit once the worker has shut down.
var ErrStopped = errors.New("worker stopped")

// Remote is the sync service the worker pushes to.
type Remote interface {
	SyncBoard(ctx context.Context, sr remote.SyncRequest, id remote.Identity) error
	AddComment(ctx context.Context, c board.Comment, id remote.Identity) (board.Comment, error)
	GetComments(ctx context.Context, boardID string, id remote.Identity) ([]board.Comment, error)
}

// Fetcher downloads and transforms a design referenced by URL.
type Fetcher interface {
	URLToStackups(ctx context.Context, url string) (pipeline.Stackups, error)
}

// Config holds configuration for the worker.
type Config struct {
	// StorePath is the SQLite database file.
	StorePath string

	// QueueSize bounds the number of requests waiting to be dispatched.
	QueueSize int

	// NotificationBuffer is the capacity of the notification channel.
	NotificationBuffer int

	// IdentityTimeout is how long a privileged flow waits for credentials
	// after emitting credentialsRequested.
	IdentityTimeout time.Duration

	// SyncTimeout bounds one background upload, identity wait included.
	SyncTimeout time.Duration

	Logger zerolog.Logger
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		StorePath:          "boards.db",
		QueueSize:          64,
		NotificationBuffer: 256,
		IdentityTimeout:    10 * time.Second,
		SyncTimeout:        2 * time.Minute,
		Logger:             zerolog.Nop(),
	}
}

type queued struct {
	req      Request
	received time.Time
}

type handlerFunc func(ctx context.Context, q queued) error

// Worker dispatches requests against the board store and the remote service.
type Worker struct {
	config   Config
	remote   Remote
	fetcher  Fetcher
	identity *identityCache
	validate *validator.Validate
	logger   zerolog.Logger
	handlers map[RequestType]handlerFunc
	urls     *keyedMutex

	queue chan queued
	notes chan Notification

	// store and initErr are written once before ready is closed.
	store   *store.Store
	initErr error
	ready   chan struct{}

	// submitMu lets shutdown wait out Submits racing the close of stopping.
	submitMu sync.RWMutex
	stopping chan struct{}
	started  atomic.Bool
	inflight sync.WaitGroup
	syncs    sync.WaitGroup
}

// New creates a worker with the default configuration.
func New(rc Remote, fetcher Fetcher, storePath string) (*Worker, error) {
	cfg := DefaultConfig()
	cfg.StorePath = storePath
	return NewWithConfig(rc, fetcher, cfg)
}

// NewWithConfig creates a worker with custom configuration.
func NewWithConfig(rc Remote, fetcher Fetcher, cfg Config) (*Worker, error) {
	if rc == nil {
		return nil, fmt.Errorf("remote cannot be nil")
	}
	if fetcher == nil {
		return nil, fmt.Errorf("fetcher cannot be nil")
	}
	if cfg.StorePath == "" {
		return nil, fmt.Errorf("store path cannot be empty")
	}

	def := DefaultConfig()
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = def.QueueSize
	}
	if cfg.NotificationBuffer <= 0 {
		cfg.NotificationBuffer = def.NotificationBuffer
	}
	if cfg.IdentityTimeout <= 0 {
		cfg.IdentityTimeout = def.IdentityTimeout
	}
	if cfg.SyncTimeout <= 0 {
		cfg.SyncTimeout = def.SyncTimeout
	}

	w := &Worker{
		config:   cfg,
		remote:   rc,
		fetcher:  fetcher,
		identity: newIdentityCache(),
		validate: validator.New(validator.WithRequiredStructEnabled()),
		logger:   cfg.Logger.With().Str("component", "worker").Logger(),
		queue:    make(chan queued, cfg.QueueSize),
		notes:    make(chan Notification, cfg.NotificationBuffer),
		ready:    make(chan struct{}),
		stopping: make(chan struct{}),
		urls:     newKeyedMutex(),
	}
	w.handlers = map[RequestType]handlerFunc{
		CreateBoard:        w.handleCreateBoard,
		CreateBoardFromURL: w.handleCreateBoardFromURL,
		GetBoard:           w.handleGetBoard,
		GetBoardPackage:    w.handleGetBoardPackage,
		UpdateBoard:        w.handleUpdateBoard,
		DeleteBoard:        w.handleDeleteBoard,
		DeleteAllBoards:    w.handleDeleteAllBoards,
		GetComment:         w.handleGetComment,
		AddComment:         w.handleAddComment,
	}
	return w, nil
}

// Notifications returns the channel every outbound message is delivered on.
func (w *Worker) Notifications() <-chan Notification {
	return w.notes
}

// Ready is closed once initialization has finished, successfully or not.
func (w *Worker) Ready() <-chan struct{} {
	return w.ready
}

// InitError returns the initialization failure, if any. Only meaningful after Ready.
func (w *Worker) InitError() error {
	select {
	case <-w.ready:
		return w.initErr
	default:
		return nil
	}
}

// Submit queues a request. It blocks while the queue is full.
func (w *Worker) Submit(ctx context.Context, req Request) error {
	w.submitMu.RLock()
	defer w.submitMu.RUnlock()

	select {
	case <-w.stopping:
		return ErrStopped
	default:
	}

	select {
	case w.queue <- queued{req: req, received: time.Now()}:
		return nil
	case <-w.stopping:
		return ErrStopped
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Run initializes the store and dispatches requests until ctx is cancelled.
// In-flight requests and background uploads are waited for before it returns.
func (w *Worker) Run(ctx context.Context) error {
	if !w.started.CompareAndSwap(false, true) {
		return fmt.Errorf("worker already running")
	}

	w.logger.Info().Str("store", w.config.StorePath).Msg("starting worker")
	w.initialize(ctx)
	close(w.ready)

	defer w.shutdown()

	for {
		select {
		case <-ctx.Done():
			w.logger.Info().Msg("shutdown signal received")
			return w.initErr
		case q := <-w.queue:
			if ctx.Err() != nil {
				w.fail(q.req, ErrStopped)
				continue
			}
			w.dispatch(ctx, q)
		}
	}
}

func (w *Worker) initialize(ctx context.Context) {
	st, err := store.OpenContext(ctx, w.config.StorePath)
	if err != nil {
		w.initErr = err
		w.logger.Error().Err(err).Msg("board store unavailable")
		return
	}

	boards, err := st.GetAll(ctx)
	if err != nil {
		_ = st.Close()
		w.initErr = board.E(board.KindStorageUnavailable, "worker.initialize", err)
		w.logger.Error().Err(err).Msg("failed to load boards")
		return
	}

	w.store = st
	storedBoards.Set(float64(len(boards)))

	listed := make([]board.Board, len(boards))
	for i, b := range boards {
		listed[i] = listing(b)
	}
	w.emit(Notification{Type: WorkerInitialized, Payload: InitializedPayload{Boards: listed}})
	w.logger.Info().Int("boards", len(boards)).Msg("worker initialized")
}

func (w *Worker) shutdown() {
	close(w.stopping)

	// Once the lock is free no Submit can still reach the queue
	w.submitMu.Lock()
	w.drainQueue()
	w.submitMu.Unlock()

	w.inflight.Wait()
	w.syncs.Wait()

	if w.store != nil {
		if err := w.store.Close(); err != nil {
			w.logger.Warn().Err(err).Msg("error closing board store")
		}
	}
	w.logger.Info().Msg("worker stopped")
}

// drainQueue answers every request left in the queue with ErrStopped.
func (w *Worker) drainQueue() {
	for {
		select {
		case q := <-w.queue:
			w.fail(q.req, ErrStopped)
		default:
			return
		}
	}
}

// dispatch runs the handler for q in its own goroutine. Requests are not
// cancelled by shutdown; Run waits for them instead.
func (w *Worker) dispatch(ctx context.Context, q queued) {
	log := w.logger.With().Str("type", string(q.req.Type)).Logger()

	if q.req.Type == SetCredentials {
		if err := w.handleSetCredentials(q); err != nil {
			w.fail(q.req, err)
		}
		return
	}

	h, ok := w.handlers[q.req.Type]
	if !ok {
		log.Debug().Msg("ignoring unknown request type")
		return
	}

	if w.initErr != nil {
		requestsTotal.WithLabelValues(string(q.req.Type), "error").Inc()
		w.fail(q.req, board.E(board.KindStorageUnavailable, "worker.dispatch", w.initErr))
		return
	}

	hctx := context.WithoutCancel(ctx)
	w.inflight.Add(1)
	go func() {
		defer w.inflight.Done()

		requestsInFlight.Inc()
		defer requestsInFlight.Dec()
		start := time.Now()

		err := w.run(hctx, h, q)

		requestDuration.WithLabelValues(string(q.req.Type)).Observe(time.Since(start).Seconds())
		if err != nil {
			requestsTotal.WithLabelValues(string(q.req.Type), "error").Inc()
			w.fail(q.req, err)
			return
		}
		requestsTotal.WithLabelValues(string(q.req.Type), "ok").Inc()
		log.Debug().Dur("elapsed", time.Since(start)).Msg("request handled")
	}()
}

// run calls h and turns a panic into an internal error.
func (w *Worker) run(ctx context.Context, h handlerFunc, q queued) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = board.Errorf(board.KindInternal, "worker.dispatch", "panic handling %s: %v", q.req.Type, r)
		}
	}()
	return h(ctx, q)
}

// fail reports a failed request as a single workerErrored notification.
func (w *Worker) fail(req Request, err error) {
	info := errorInfo(err)
	w.logger.Warn().
		Str("type", string(req.Type)).
		Str("kind", string(info.Kind)).
		Int("status", info.Status).
		Err(err).
		Msg("request failed")
	w.emit(Notification{Type: WorkerErrored, Payload: ErroredPayload{Request: req, Error: info}})
}

// emit delivers n. Once the worker is stopping, notifications that do not
// fit in the buffer are dropped.
func (w *Worker) emit(n Notification) {
	select {
	case w.notes <- n:
		return
	default:
	}

	select {
	case w.notes <- n:
	case <-w.stopping:
		w.logger.Warn().Str("type", string(n.Type)).Msg("dropping notification during shutdown")
	}
}

func (w *Worker) emitRendered(shared pipeline.Shared, b board.Board, received time.Time) {
	d := render.StackupToBoardRender(shared, b)
	w.emit(Notification{
		Type:    BoardRendered,
		Payload: RenderedPayload{Render: d, ElapsedMs: time.Since(received).Milliseconds()},
	})
}

func (w *Worker) refreshBoardCount(ctx context.Context) {
	n, err := w.store.Count(ctx)
	if err != nil {
		w.logger.Debug().Err(err).Msg("failed to count boards")
		return
	}
	storedBoards.Set(float64(n))
}

// syncInBackground uploads a board without blocking the calling flow.
// Failures are logged and reported as boardSyncFailed.
func (w *Worker) syncInBackground(ctx context.Context, id string, sc pipeline.SelfContained, sourceURL string) {
	w.syncs.Add(1)
	go func() {
		defer w.syncs.Done()

		sctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), w.config.SyncTimeout)
		defer cancel()

		err := w.syncBoard(sctx, id, sc, sourceURL)
		if err == nil {
			w.logger.Debug().Str("board", id).Msg("board synced")
			return
		}

		syncFailuresTotal.Inc()
		w.logger.Warn().Str("board", id).Err(err).Msg("board sync failed")
		w.emit(Notification{Type: BoardSyncFailed, Payload: SyncFailedPayload{ID: id, Error: errorInfo(err)}})
	}()
}

func (w *Worker) syncBoard(ctx context.Context, id string, sc pipeline.SelfContained, sourceURL string) error {
	ident, err := w.resolveIdentity(ctx)
	if err != nil {
		return err
	}

	archive, err := render.StackupToZipBlob(sc)
	if err != nil {
		return err
	}

	return w.remote.SyncBoard(ctx, remote.SyncRequest{BoardID: id, Archive: archive, SourceURL: sourceURL}, ident)
}

func (w *Worker) resolveIdentity(ctx context.Context) (remote.Identity, error) {
	return w.identity.Resolve(ctx, w.config.IdentityTimeout, func() {
		w.emit(Notification{Type: CredentialsRequested})
	})
}
