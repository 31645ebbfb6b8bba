package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"golang.org/x/sync/errgroup"

	"github.com/pcbview/boardworker/internal/board"
	"github.com/pcbview/boardworker/internal/pipeline"
	"github.com/pcbview/boardworker/internal/remote"
	"github.com/pcbview/boardworker/internal/render"
	"github.com/pcbview/boardworker/internal/store"
)

// decode unmarshals the request payload into v.
func (w *Worker) decode(op string, raw json.RawMessage, v any) error {
	if len(raw) == 0 {
		return board.Errorf(board.KindInvalid, op, "payload is required")
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return board.E(board.KindInvalid, op, fmt.Errorf("decode payload: %w", err))
	}
	return nil
}

// decodeID reads a payload that is a bare board id.
func (w *Worker) decodeID(op string, raw json.RawMessage) (string, error) {
	var id string
	if err := w.decode(op, raw, &id); err != nil {
		return "", err
	}
	if err := w.validate.Var(id, "required,max=128"); err != nil {
		return "", board.E(board.KindInvalid, op, fmt.Errorf("board id: %w", err))
	}
	return id, nil
}

func (w *Worker) validateStruct(op string, v any) error {
	if err := w.validate.Struct(v); err != nil {
		return board.E(board.KindInvalid, op, err)
	}
	return nil
}

// handleCreateBoard: transform, render-notify, sync in background, persist, update-notify.
func (w *Worker) handleCreateBoard(ctx context.Context, q queued) error {
	const op = "worker.CreateBoard"

	if len(q.req.Payload) == 0 {
		return board.Errorf(board.KindInvalid, op, "payload is required")
	}
	files, err := decodeFiles(q.req.Payload)
	if err != nil {
		return board.E(board.KindInvalid, op, err)
	}
	if len(files) == 0 {
		return board.Errorf(board.KindInvalid, op, "at least one file is required")
	}
	for i := range files {
		if err := w.validateStruct(op, files[i]); err != nil {
			return err
		}
	}

	st, err := pipeline.FilesToStackups(files)
	if err != nil {
		return err
	}

	b := pipeline.StackupToBoard(st.SelfContained)
	w.emitRendered(st.Shared, b, q.received)

	w.syncInBackground(ctx, b.ID, st.SelfContained, "")

	return w.persistNew(ctx, b, st.SelfContained)
}

// handleCreateBoardFromURL looks up the URL and fetches it concurrently.
// A known URL refreshes the existing board in place; otherwise a new board
// is created with SourceURL set. Imports of the same URL are serialized.
func (w *Worker) handleCreateBoardFromURL(ctx context.Context, q queued) error {
	const op = "worker.CreateBoardFromURL"

	var url string
	if err := w.decode(op, q.req.Payload, &url); err != nil {
		return err
	}
	if err := w.validate.Var(url, "required,url"); err != nil {
		return board.E(board.KindInvalid, op, fmt.Errorf("url: %w", err))
	}

	unlock := w.urls.Lock(url)
	defer unlock()

	var (
		existing *board.Board
		st       pipeline.Stackups
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		existing, err = w.store.FindByURL(gctx, url)
		return err
	})
	g.Go(func() error {
		var err error
		st, err = w.fetcher.URLToStackups(gctx, url)
		return err
	})
	if err := g.Wait(); err != nil {
		return err
	}

	if existing == nil {
		b := pipeline.StackupToBoard(st.SelfContained)
		b.SourceURL = url
		w.emitRendered(st.Shared, b, q.received)
		err := w.persistNew(ctx, b, st.SelfContained)
		if !errors.Is(err, store.ErrDuplicateURL) {
			return err
		}

		// Another writer imported the link first; merge into its board
		existing, err = w.store.FindByURL(ctx, url)
		if err != nil {
			return err
		}
		if existing == nil {
			return board.Errorf(board.KindInternal, op, "board for %s vanished after conflict", url)
		}
	}

	return w.mergeFromURL(ctx, q, *existing, st.SelfContained, url)
}

// mergeFromURL replaces the layers of an imported board with a fresh fetch.
func (w *Worker) mergeFromURL(ctx context.Context, q queued, existing board.Board, sc pipeline.SelfContained, url string) error {
	b := pipeline.UpdateBoard(existing, board.BoardUpdate{
		Layers:    sc.Layers,
		SourceURL: &url,
	})
	fresh, err := pipeline.BoardToStackups(b)
	if err != nil {
		return err
	}
	w.emitRendered(fresh.Shared, b, q.received)

	b, err = render.UpdateBoardThumbnail(b, fresh.SelfContained)
	if err != nil {
		return err
	}
	if b.SourceURL != "" {
		w.syncInBackground(ctx, b.ID, fresh.SelfContained, b.SourceURL)
	}

	if err := w.store.Save(ctx, b); err != nil {
		return err
	}
	w.emit(Notification{Type: BoardUpdated, Payload: UpdatedPayload{Board: listing(b)}})
	return nil
}

// persistNew derives the thumbnail, saves a new board and announces it.
func (w *Worker) persistNew(ctx context.Context, b board.Board, sc pipeline.SelfContained) error {
	b, err := render.UpdateBoardThumbnail(b, sc)
	if err != nil {
		return err
	}
	if err := w.store.Save(ctx, b); err != nil {
		return err
	}
	w.refreshBoardCount(ctx)
	w.emit(Notification{Type: BoardUpdated, Payload: UpdatedPayload{Board: listing(b)}})
	return nil
}

// handleGetBoard re-renders a stored board without persisting anything.
func (w *Worker) handleGetBoard(ctx context.Context, q queued) error {
	const op = "worker.GetBoard"

	id, err := w.decodeID(op, q.req.Payload)
	if err != nil {
		return err
	}

	b, err := w.store.GetByID(ctx, id)
	if err != nil {
		return err
	}
	st, err := pipeline.BoardToStackups(b)
	if err != nil {
		return err
	}

	w.emitRendered(st.Shared, b, q.received)
	return nil
}

// handleGetBoardPackage packages a stored board into an archive.
func (w *Worker) handleGetBoardPackage(ctx context.Context, q queued) error {
	const op = "worker.GetBoardPackage"

	id, err := w.decodeID(op, q.req.Payload)
	if err != nil {
		return err
	}

	b, err := w.store.GetByID(ctx, id)
	if err != nil {
		return err
	}
	st, err := pipeline.BoardToStackups(b)
	if err != nil {
		return err
	}
	archive, err := render.StackupToZipBlob(st.SelfContained)
	if err != nil {
		return err
	}

	w.emit(Notification{Type: BoardPackaged, Payload: PackagedPayload{ID: b.ID, Name: b.Name, Archive: archive}})
	return nil
}

// handleUpdateBoard applies an explicit edit. Only the id/name/options/thumbnail
// projection is persisted and announced.
func (w *Worker) handleUpdateBoard(ctx context.Context, q queued) error {
	const op = "worker.UpdateBoard"

	var p UpdateBoardPayload
	if err := w.decode(op, q.req.Payload, &p); err != nil {
		return err
	}
	if err := w.validateStruct(op, p); err != nil {
		return err
	}

	existing, err := w.store.GetByID(ctx, p.ID)
	if err != nil {
		return err
	}

	b := pipeline.UpdateBoard(existing, p.Update)
	st, err := pipeline.BoardToStackups(b)
	if err != nil {
		return err
	}
	w.emitRendered(st.Shared, b, q.received)

	b, err = render.UpdateBoardThumbnail(b, st.SelfContained)
	if err != nil {
		return err
	}
	if err := w.store.UpdateMeta(ctx, b); err != nil {
		return err
	}

	w.emit(Notification{Type: BoardUpdated, Payload: UpdatedPayload{Board: b.Summary()}})
	return nil
}

func (w *Worker) handleDeleteBoard(ctx context.Context, q queued) error {
	id, err := w.decodeID("worker.DeleteBoard", q.req.Payload)
	if err != nil {
		return err
	}

	if err := w.store.Delete(ctx, id); err != nil {
		return err
	}
	w.refreshBoardCount(ctx)
	w.emit(Notification{Type: BoardDeleted, Payload: DeletedPayload{ID: id}})
	return nil
}

func (w *Worker) handleDeleteAllBoards(ctx context.Context, _ queued) error {
	if err := w.store.DeleteAll(ctx); err != nil {
		return err
	}
	storedBoards.Set(0)
	w.emit(Notification{Type: AllBoardsDeleted})
	return nil
}

// handleGetComment fetches and announces the comment list of a board.
func (w *Worker) handleGetComment(ctx context.Context, q queued) error {
	id, err := w.decodeID("worker.GetComment", q.req.Payload)
	if err != nil {
		return err
	}
	return w.renderComments(ctx, id, w.identity.Snapshot())
}

// handleAddComment posts a comment for the payload's user, then re-fetches
// the board's comments so the caller sees its own comment in the list.
func (w *Worker) handleAddComment(ctx context.Context, q queued) error {
	const op = "worker.AddComment"

	var p AddCommentPayload
	if err := w.decode(op, q.req.Payload, &p); err != nil {
		return err
	}
	if p.UserID == "" {
		return board.E(board.KindAuth, op, board.ErrAuth)
	}
	if err := w.validateStruct(op, p.Comment); err != nil {
		return err
	}

	ident := w.identity.Snapshot()
	if ident == nil {
		ident = remote.Identity{}
	}
	ident[remote.UserIDCookie] = p.UserID

	saved, err := w.remote.AddComment(ctx, p.Comment, ident)
	if err != nil {
		return err
	}
	w.emit(Notification{Type: CommentAdded, Payload: CommentPayload{Comment: saved}})

	boardID := saved.BoardID
	if boardID == "" {
		boardID = p.Comment.BoardID
	}
	return w.renderComments(ctx, boardID, ident)
}

func (w *Worker) renderComments(ctx context.Context, boardID string, ident remote.Identity) error {
	comments, err := w.remote.GetComments(ctx, boardID, ident)
	if err != nil {
		return err
	}
	w.emit(Notification{Type: CommentRendered, Payload: CommentsPayload{BoardID: boardID, Comments: comments}})
	return nil
}

// handleSetCredentials caches the pushed credentials. It runs inline in the
// dispatch loop so later requests observe it.
func (w *Worker) handleSetCredentials(q queued) error {
	const op = "worker.SetCredentials"

	var creds map[string]string
	if err := w.decode(op, q.req.Payload, &creds); err != nil {
		return err
	}
	w.identity.Set(remote.Identity(creds))
	w.logger.Debug().Int("keys", len(creds)).Msg("credentials updated")
	return nil
}
