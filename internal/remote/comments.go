package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"

	"github.com/pcbview/boardworker/internal/board"
)

// AddComment stores a comment for the identity's user and returns it with
// the server-assigned id. Only 201 Created counts as success.
func (c *Client) AddComment(ctx context.Context, comment board.Comment, id Identity) (board.Comment, error) {
	const op = "remote.AddComment"

	userID := id.UserID()
	if userID == "" {
		return board.Comment{}, board.E(board.KindAuth, op, board.ErrAuth)
	}

	comment.UserID = userID

	payload, err := json.Marshal(comment)
	if err != nil {
		return board.Comment{}, board.E(board.KindInternal, op, fmt.Errorf("marshal comment: %w", err))
	}

	resp, err := c.do(ctx, http.MethodPost, "/api/comments", "application/json", bytes.NewReader(payload), id)
	if err != nil {
		return board.Comment{}, board.E(board.KindNetwork, op, err)
	}

	if resp.StatusCode != http.StatusCreated {
		msg := c.drain(resp)
		e := board.Errorf(board.KindRequest, op, "could not add comment: %s", msg)
		e.Status = resp.StatusCode
		return board.Comment{}, e
	}
	defer resp.Body.Close()

	var saved board.Comment
	if err := json.NewDecoder(resp.Body).Decode(&saved); err != nil {
		e := board.E(board.KindServer, op, fmt.Errorf("failed to parse comment JSON: %w", err))
		e.Status = resp.StatusCode
		return board.Comment{}, e
	}
	return saved, nil
}

// GetComments lists the comments of a board. Only 200 OK counts as success.
func (c *Client) GetComments(ctx context.Context, boardID string, id Identity) ([]board.Comment, error) {
	const op = "remote.GetComments"

	if boardID == "" {
		return nil, board.Errorf(board.KindInvalid, op, "board id is required")
	}

	resp, err := c.do(ctx, http.MethodGet, "/api/comments/board/"+url.PathEscape(boardID), "", nil, id)
	if err != nil {
		return nil, board.E(board.KindNetwork, op, err)
	}

	if resp.StatusCode != http.StatusOK {
		msg := c.drain(resp)
		e := board.Errorf(board.KindRequest, op, "could not fetch comments for board %s: %s", boardID, msg)
		e.Status = resp.StatusCode
		return nil, e
	}
	defer resp.Body.Close()

	var comments []board.Comment
	if err := json.NewDecoder(resp.Body).Decode(&comments); err != nil {
		e := board.E(board.KindServer, op, fmt.Errorf("failed to parse comments JSON: %w", err))
		e.Status = resp.StatusCode
		return nil, e
	}
	if comments == nil {
		comments = []board.Comment{}
	}
	return comments, nil
}
