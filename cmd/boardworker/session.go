package main

import (
	"context"
	"errors"
	"fmt"
	"os"

	"golang.org/x/time/rate"

	"github.com/pcbview/boardworker/internal/board"
	"github.com/pcbview/boardworker/internal/remote"
	"github.com/pcbview/boardworker/internal/ui"
	"github.com/pcbview/boardworker/internal/worker"
)

// session runs an in-process worker for a single CLI request.
type session struct {
	w      *worker.Worker
	cancel context.CancelFunc
	done   chan error
}

func startSession(ctx context.Context) (*session, error) {
	w, err := newWorker()
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithCancel(ctx)
	s := &session{w: w, cancel: cancel, done: make(chan error, 1)}
	go func() { s.done <- w.Run(ctx) }()

	select {
	case <-w.Ready():
	case <-ctx.Done():
		cancel()
		return nil, ctx.Err()
	}
	if err := w.InitError(); err != nil {
		s.close()
		return nil, err
	}
	return s, nil
}

// credentials pushes a user id so background uploads can authenticate.
func (s *session) credentials(ctx context.Context, userID string) error {
	if userID == "" {
		return nil
	}
	req, err := worker.NewRequest(worker.SetCredentials, remote.Identity{remote.UserIDCookie: userID})
	if err != nil {
		return err
	}
	return s.w.Submit(ctx, req)
}

// do submits req and waits for a notification of type want. A workerErrored
// notification for the request is returned as an error.
func (s *session) do(ctx context.Context, t worker.RequestType, payload any, want worker.NotificationType) (worker.Notification, error) {
	req, err := worker.NewRequest(t, payload)
	if err != nil {
		return worker.Notification{}, err
	}
	if err := s.w.Submit(ctx, req); err != nil {
		return worker.Notification{}, err
	}

	for {
		select {
		case n := <-s.w.Notifications():
			switch n.Type {
			case want:
				return n, nil
			case worker.WorkerErrored:
				p := n.Payload.(worker.ErroredPayload)
				if p.Request.Type == t {
					return n, errors.New(p.Error.Message)
				}
			default:
				s.report(n)
			}
		case <-ctx.Done():
			return worker.Notification{}, ctx.Err()
		}
	}
}

// close stops the worker, reporting notifications that arrive while
// background uploads finish.
func (s *session) close() {
	s.cancel()
	for {
		select {
		case n := <-s.w.Notifications():
			s.report(n)
		case <-s.done:
			return
		}
	}
}

func (s *session) report(n worker.Notification) {
	switch n.Type {
	case worker.BoardSyncFailed:
		p := n.Payload.(worker.SyncFailedPayload)
		msg := p.Error.Message
		if p.Error.Kind == board.KindAuth {
			msg = "no user id; pass --user to upload boards"
		}
		fmt.Fprintf(os.Stderr, "%s Board %s was saved locally but not uploaded: %s\n", ui.RenderWarn("⚠"), p.ID, msg)
	case worker.CredentialsRequested:
		logger.Debug().Msg("worker requested credentials")
	}
}

func rateLimit(perSecond float64) rate.Limit {
	if perSecond <= 0 {
		return rate.Inf
	}
	return rate.Limit(perSecond)
}
