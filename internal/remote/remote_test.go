package remote

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pcbview/boardworker/internal/board"
)

var testIdentity = Identity{UserIDCookie: "u1", "session": "abc"}

// newTestClient starts a server with handler and returns a client pointed at it
// along with a counter of received requests.
func newTestClient(t *testing.T, handler http.HandlerFunc) (*Client, *atomic.Int32) {
	t.Helper()

	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		handler(w, r)
	}))
	t.Cleanup(srv.Close)

	c, err := New(srv.URL)
	require.NoError(t, err)
	return c, &hits
}

func TestNewWithConfig_Invalid(t *testing.T) {
	t.Parallel()

	_, err := New("not a url")
	assert.Error(t, err)

	cfg := DefaultConfig()
	cfg.ProductName = ""
	_, err = NewWithConfig(cfg)
	assert.Error(t, err)
}

func TestSyncBoard(t *testing.T) {
	t.Parallel()

	var got struct {
		id, userID, folder, filename string
		file                         []byte
		cookie                       string
	}
	c, hits := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/api/files/", r.URL.Path)
		require.NoError(t, r.ParseMultipartForm(1<<20))

		got.id = r.FormValue("id")
		got.userID = r.FormValue("user_id")
		got.folder = r.FormValue("folder_path")
		f, hdr, err := r.FormFile("file")
		require.NoError(t, err)
		got.filename = hdr.Filename
		got.file, _ = io.ReadAll(f)
		if ck, err := r.Cookie("session"); err == nil {
			got.cookie = ck.Value
		}
		w.WriteHeader(http.StatusCreated)
	})

	err := c.SyncBoard(context.Background(), SyncRequest{BoardID: "b1", Archive: []byte("PK zip")}, testIdentity)
	require.NoError(t, err)
	assert.EqualValues(t, 1, hits.Load())

	assert.Equal(t, "b1", got.id)
	assert.Equal(t, "u1", got.userID)
	assert.Equal(t, "/boards/productflo", got.folder)
	assert.Equal(t, "b1.zip", got.filename)
	assert.Equal(t, []byte("PK zip"), got.file)
	assert.Equal(t, "abc", got.cookie)
}

func TestSyncBoard_SourceURL(t *testing.T) {
	t.Parallel()

	var sourceURL string
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseMultipartForm(1<<20))
		sourceURL = r.FormValue("source_url")
		w.WriteHeader(http.StatusOK)
	})

	err := c.SyncBoard(context.Background(), SyncRequest{BoardID: "b1", SourceURL: "https://example.com/b.zip"}, testIdentity)
	require.NoError(t, err)
	assert.Equal(t, "https://example.com/b.zip", sourceURL)
}

func TestSyncBoard_Errors(t *testing.T) {
	t.Parallel()

	c, hits := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "disk full", http.StatusInternalServerError)
	})
	ctx := context.Background()
	req := SyncRequest{BoardID: "b1", Archive: []byte("zip")}

	err := c.SyncBoard(ctx, req, Identity{})
	assert.ErrorIs(t, err, board.ErrAuth)
	assert.EqualValues(t, 0, hits.Load(), "no request without an identity")

	err = c.SyncBoard(ctx, SyncRequest{BoardID: "b1"}, testIdentity)
	assert.ErrorIs(t, err, board.ErrInvalid)

	err = c.SyncBoard(ctx, req, testIdentity)
	assert.ErrorIs(t, err, board.ErrServer)
	assert.Equal(t, http.StatusInternalServerError, board.StatusOf(err))
	assert.Contains(t, err.Error(), "disk full")
}

func TestSyncBoard_NetworkError(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.NotFoundHandler())
	c, err := New(srv.URL)
	require.NoError(t, err)
	srv.Close()

	err = c.SyncBoard(context.Background(), SyncRequest{BoardID: "b1", Archive: []byte("zip")}, testIdentity)
	assert.ErrorIs(t, err, board.ErrNetwork)
}

func TestAddComment(t *testing.T) {
	t.Parallel()

	var sent map[string]any
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/api/comments", r.URL.Path)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&sent))

		w.WriteHeader(http.StatusCreated)
		_ = json.NewEncoder(w).Encode(map[string]any{
			"id":       "c1",
			"board_id": sent["board_id"],
			"content":  sent["content"],
			"user_id":  sent["user_id"],
		})
	})

	saved, err := c.AddComment(context.Background(), board.Comment{
		BoardID:     "b1",
		Content:     "R1 < R2 & C3's pad",
		Coordinates: board.Coordinates{X: 1, Y: 2, Z: 3},
	}, testIdentity)
	require.NoError(t, err)

	assert.Equal(t, "u1", sent["user_id"], "user id is merged into the body")
	assert.Equal(t, "R1 < R2 & C3's pad", sent["content"], "content is sent verbatim")
	assert.Equal(t, map[string]any{"x": 1.0, "y": 2.0, "z": 3.0}, sent["coordinates"])

	assert.Equal(t, "c1", saved.ID)
	assert.Equal(t, "b1", saved.BoardID)
	assert.Equal(t, "u1", saved.UserID)
	assert.Equal(t, "R1 < R2 & C3's pad", saved.Content)
}

func TestAddComment_RequiresIdentity(t *testing.T) {
	t.Parallel()

	c, hits := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusCreated)
	})

	_, err := c.AddComment(context.Background(), board.Comment{BoardID: "b1", Content: "hi"}, nil)
	assert.ErrorIs(t, err, board.ErrAuth)
	assert.EqualValues(t, 0, hits.Load())
}

func TestAddComment_StatusMustBeCreated(t *testing.T) {
	t.Parallel()

	for _, status := range []int{http.StatusOK, http.StatusAccepted, http.StatusBadRequest, http.StatusInternalServerError} {
		t.Run(http.StatusText(status), func(t *testing.T) {
			t.Parallel()

			c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(status)
				_, _ = w.Write([]byte(`{"id":"c1"}`))
			})

			_, err := c.AddComment(context.Background(), board.Comment{BoardID: "b1", Content: "hi"}, testIdentity)
			require.Error(t, err)
			assert.ErrorIs(t, err, board.ErrRequest)
			assert.Equal(t, status, board.StatusOf(err))
		})
	}
}

func TestGetComments(t *testing.T) {
	t.Parallel()

	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodGet, r.Method)
		assert.Equal(t, "/api/comments/board/b1", r.URL.Path)
		_, _ = w.Write([]byte(`[{"id":"c1","board_id":"b1","content":"<b>R1</b> & C3's","addedAt":42}]`))
	})

	comments, err := c.GetComments(context.Background(), "b1", nil)
	require.NoError(t, err)
	require.Len(t, comments, 1)
	assert.Equal(t, "c1", comments[0].ID)
	assert.Equal(t, "<b>R1</b> & C3's", comments[0].Content)
	assert.EqualValues(t, 42, comments[0].AddedAt)
}

func TestGetComments_Empty(t *testing.T) {
	t.Parallel()

	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`null`))
	})

	comments, err := c.GetComments(context.Background(), "b1", nil)
	require.NoError(t, err)
	assert.NotNil(t, comments)
	assert.Empty(t, comments)
}

func TestRequestError_StripsHTMLBody(t *testing.T) {
	t.Parallel()

	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		w.WriteHeader(http.StatusBadGateway)
		_, _ = w.Write([]byte("<html><body>\n<h1>502 Bad Gateway</h1>\n<p>R1 &amp; R2</p></body></html>"))
	})

	_, err := c.GetComments(context.Background(), "b1", nil)
	require.Error(t, err)
	assert.Equal(t, http.StatusBadGateway, board.StatusOf(err))
	assert.Contains(t, err.Error(), "could not fetch comments for board b1: 502 Bad Gateway R1 & R2")
	assert.NotContains(t, err.Error(), "<h1>")
}

func TestGetComments_StatusMustBeOK(t *testing.T) {
	t.Parallel()

	for _, status := range []int{http.StatusCreated, http.StatusNoContent, http.StatusNotFound} {
		t.Run(http.StatusText(status), func(t *testing.T) {
			t.Parallel()

			c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(status)
			})

			_, err := c.GetComments(context.Background(), "b1", nil)
			assert.ErrorIs(t, err, board.ErrRequest)
			assert.Equal(t, status, board.StatusOf(err))
		})
	}
}

func TestIdentity(t *testing.T) {
	t.Parallel()

	id := Identity{UserIDCookie: "u1"}
	clone := id.Clone()
	clone[UserIDCookie] = "u2"

	assert.Equal(t, "u1", id.UserID())
	assert.Equal(t, "u2", clone.UserID())
	assert.Empty(t, Identity(nil).UserID())
	assert.Nil(t, Identity(nil).Clone())
}
