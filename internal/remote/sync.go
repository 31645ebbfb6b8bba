package remote

import (
	"bytes"
	"context"
	"fmt"
	"mime/multipart"
	"net/http"

	"github.com/pcbview/boardworker/internal/board"
)

// SyncRequest is a board artifact to push. At least one of Archive and
// SourceURL must be set.
type SyncRequest struct {
	BoardID   string
	Archive   []byte
	SourceURL string
}

// SyncBoard uploads a board's archive or source URL to the file service.
func (c *Client) SyncBoard(ctx context.Context, sr SyncRequest, id Identity) error {
	const op = "remote.SyncBoard"

	userID := id.UserID()
	if userID == "" {
		return board.E(board.KindAuth, op, board.ErrAuth)
	}
	if sr.BoardID == "" || (len(sr.Archive) == 0 && sr.SourceURL == "") {
		return board.Errorf(board.KindInvalid, op, "board id and an archive or source url are required")
	}

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	fields := [][2]string{
		{"id", sr.BoardID},
		{"user_id", userID},
		{"folder_path", "/boards/" + c.product},
	}
	if sr.SourceURL != "" {
		fields = append(fields, [2]string{"source_url", sr.SourceURL})
	}
	for _, f := range fields {
		if err := mw.WriteField(f[0], f[1]); err != nil {
			return board.E(board.KindInternal, op, fmt.Errorf("write field %s: %w", f[0], err))
		}
	}
	if len(sr.Archive) > 0 {
		part, err := mw.CreateFormFile("file", sr.BoardID+".zip")
		if err != nil {
			return board.E(board.KindInternal, op, fmt.Errorf("create file part: %w", err))
		}
		if _, err := part.Write(sr.Archive); err != nil {
			return board.E(board.KindInternal, op, fmt.Errorf("write file part: %w", err))
		}
	}
	if err := mw.Close(); err != nil {
		return board.E(board.KindInternal, op, fmt.Errorf("close multipart body: %w", err))
	}

	if err := c.limiter.Wait(ctx); err != nil {
		return board.E(board.KindNetwork, op, fmt.Errorf("upload throttled: %w", err))
	}

	resp, err := c.do(ctx, http.MethodPost, "/api/files/", mw.FormDataContentType(), &body, id)
	if err != nil {
		return board.E(board.KindNetwork, op, err)
	}
	msg := c.drain(resp)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		e := board.Errorf(board.KindServer, op, "upload of board %s rejected: %s", sr.BoardID, msg)
		e.Status = resp.StatusCode
		return e
	}
	return nil
}
