package worker

import (
	"encoding/json"
	"errors"

	"github.com/pcbview/boardworker/internal/board"
	"github.com/pcbview/boardworker/internal/pipeline"
	"github.com/pcbview/boardworker/internal/render"
)

// RequestType tags an inbound message.
type RequestType string

const (
	CreateBoard        RequestType = "CREATE_BOARD"
	CreateBoardFromURL RequestType = "CREATE_BOARD_FROM_URL"
	GetBoard           RequestType = "GET_BOARD"
	GetBoardPackage    RequestType = "GET_BOARD_PACKAGE"
	UpdateBoard        RequestType = "UPDATE_BOARD"
	DeleteBoard        RequestType = "DELETE_BOARD"
	DeleteAllBoards    RequestType = "DELETE_ALL_BOARDS"
	GetComment         RequestType = "GET_COMMENT"
	AddComment         RequestType = "ADD_COMMENT"
	SetCredentials     RequestType = "SET_CREDENTIALS"
)

// RequestTypes lists every request type the worker handles.
var RequestTypes = []RequestType{
	CreateBoard,
	CreateBoardFromURL,
	GetBoard,
	GetBoardPackage,
	UpdateBoard,
	DeleteBoard,
	DeleteAllBoards,
	GetComment,
	AddComment,
	SetCredentials,
}

// NotificationType tags an outbound message. Notification tags are camelCase
// and request tags are upper snake case, so the two never collide.
type NotificationType string

const (
	WorkerInitialized    NotificationType = "workerInitialized"
	BoardRendered        NotificationType = "boardRendered"
	BoardUpdated         NotificationType = "boardUpdated"
	BoardPackaged        NotificationType = "boardPackaged"
	BoardDeleted         NotificationType = "boardDeleted"
	AllBoardsDeleted     NotificationType = "allBoardsDeleted"
	CommentRendered      NotificationType = "commentRendered"
	CommentAdded         NotificationType = "commentAdded"
	WorkerErrored        NotificationType = "workerErrored"
	CredentialsRequested NotificationType = "credentialsRequested"
	BoardSyncFailed      NotificationType = "boardSyncFailed"
)

// Request is an inbound message. Payload is decoded by the handler for Type.
type Request struct {
	Type    RequestType     `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// NewRequest builds a request with payload marshaled to JSON.
func NewRequest(t RequestType, payload any) (Request, error) {
	if payload == nil {
		return Request{Type: t}, nil
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return Request{}, err
	}
	return Request{Type: t, Payload: raw}, nil
}

// Notification is an outbound message.
type Notification struct {
	Type    NotificationType `json:"type"`
	Payload any              `json:"payload,omitempty"`
}

// ===== Request payloads =====

// UpdateBoardPayload is the payload of UPDATE_BOARD.
type UpdateBoardPayload struct {
	ID     string            `json:"id" validate:"required"`
	Update board.BoardUpdate `json:"update"`
}

// AddCommentPayload is the payload of ADD_COMMENT.
type AddCommentPayload struct {
	Comment board.Comment `json:"comment"`
	UserID  string        `json:"userId"`
}

// decodeFiles accepts a single file object or a list of files.
func decodeFiles(raw json.RawMessage) ([]pipeline.File, error) {
	var files []pipeline.File
	if err := json.Unmarshal(raw, &files); err == nil {
		return files, nil
	}
	var single pipeline.File
	if err := json.Unmarshal(raw, &single); err != nil {
		return nil, errors.New("payload must be a file or a list of files")
	}
	return []pipeline.File{single}, nil
}

// ===== Notification payloads =====

// InitializedPayload lists every stored board at startup.
type InitializedPayload struct {
	Boards []board.Board `json:"boards"`
}

// RenderedPayload carries a render and the time from request receipt to render.
type RenderedPayload struct {
	Render    render.Descriptor `json:"render"`
	ElapsedMs int64             `json:"elapsedMs"`
}

// UpdatedPayload carries a saved board without its layer sources.
type UpdatedPayload struct {
	Board board.Board `json:"board"`
}

// PackagedPayload carries a board archive.
type PackagedPayload struct {
	ID      string `json:"id"`
	Name    string `json:"name"`
	Archive []byte `json:"archive"`
}

// DeletedPayload names a deleted board.
type DeletedPayload struct {
	ID string `json:"id"`
}

// CommentsPayload is the full comment list of a board.
type CommentsPayload struct {
	BoardID  string          `json:"boardId"`
	Comments []board.Comment `json:"comments"`
}

// CommentPayload carries a single saved comment.
type CommentPayload struct {
	Comment board.Comment `json:"comment"`
}

// ErrorInfo is the serializable form of a classified error.
type ErrorInfo struct {
	Kind    board.Kind `json:"kind"`
	Message string     `json:"message"`
	Status  int        `json:"status,omitempty"`
}

// ErroredPayload reports a failed request.
type ErroredPayload struct {
	Request Request   `json:"request"`
	Error   ErrorInfo `json:"error"`
}

// SyncFailedPayload reports a failed background upload.
type SyncFailedPayload struct {
	ID    string    `json:"id"`
	Error ErrorInfo `json:"error"`
}

func errorInfo(err error) ErrorInfo {
	return ErrorInfo{
		Kind:    board.KindOf(err),
		Message: err.Error(),
		Status:  board.StatusOf(err),
	}
}

// listing strips layer sources, which the caller never needs.
func listing(b board.Board) board.Board {
	b.Layers = nil
	return b
}
