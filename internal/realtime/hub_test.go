package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/campus-talks/backend/internal/authz"
	"github.com/campus-talks/backend/internal/campustest"
	"github.com/campus-talks/backend/internal/models"
)

func receive(t *testing.T, c *Client) WSMessage {
	t.Helper()
	select {
	case msg := <-c.send:
		return msg
	case <-time.After(2 * time.Second):
		t.Fatal("no message delivered")
	}
	return WSMessage{}
}

func TestHubForwardsChanges(t *testing.T) {
	f := campustest.New()
	hub := NewHub(f.Store, nil)
	ctx := context.Background()

	all := &Client{ID: "all", Topic: Topic{Collection: models.CollectionSessions}, send: make(chan WSMessage, 8)}
	one := &Client{ID: "one", Topic: Topic{Collection: models.CollectionSessions, ID: "s2"}, send: make(chan WSMessage, 8)}
	require.NoError(t, hub.Register(all))
	require.NoError(t, hub.Register(one))
	assert.Equal(t, 1, hub.Listeners(Topic{Collection: models.CollectionSessions}))

	require.NoError(t, f.Store.Create(ctx, models.CollectionSessions, "s1", map[string]string{"id": "s1", "status": "pending"}))
	require.NoError(t, f.Store.Create(ctx, models.CollectionSessions, "s2", map[string]string{"id": "s2", "status": "pending"}))

	msg := receive(t, all)
	assert.Equal(t, "created", msg.Event)
	var evt ChangeEvent
	require.NoError(t, json.Unmarshal(msg.Data, &evt))
	assert.Equal(t, "s1", evt.ID)
	assert.Contains(t, string(evt.Document), `"status":"pending"`)

	msg = receive(t, one)
	require.NoError(t, json.Unmarshal(msg.Data, &evt))
	assert.Equal(t, "s2", evt.ID)

	hub.Unregister(all)
	assert.Equal(t, 0, hub.Listeners(Topic{Collection: models.CollectionSessions}))
	// s2's create is still buffered; the range ends on close.
	for range all.send {
	}
	assert.NotPanics(t, func() { hub.Unregister(all) })

	hub.Close()
	for range one.send {
	}
	assert.Equal(t, 0, hub.Listeners(one.Topic))
}

func testServer(t *testing.T) (*campustest.Fixture, *httptest.Server) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	f := campustest.New()
	hub := NewHub(f.Store, nil)
	t.Cleanup(hub.Close)
	tokens := map[string]authz.Identity{"stu": campustest.Student, "fac": campustest.Faculty}
	validate := func(token string) (authz.Identity, error) {
		id, ok := tokens[token]
		if !ok {
			return authz.Identity{}, errors.New("bad token")
		}
		return id, nil
	}
	r := gin.New()
	r.GET("/ws", ServeWs(hub, f.Guard, validate, nil))
	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return f, srv
}

func dial(srv *httptest.Server, query string) (*websocket.Conn, *http.Response, error) {
	return websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http")+"/ws?"+query, nil)
}

func TestServeWsStreamsChanges(t *testing.T) {
	f, srv := testServer(t)
	conn, _, err := dial(srv, "collection=sessions&token=stu")
	require.NoError(t, err)
	defer conn.Close()
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))

	var msg WSMessage
	require.NoError(t, conn.ReadJSON(&msg))
	assert.Equal(t, EventSubscribed, msg.Event)

	require.NoError(t, f.Store.Create(context.Background(), models.CollectionSessions, "s1",
		map[string]string{"id": "s1", "status": "approved"}))
	require.NoError(t, conn.ReadJSON(&msg))
	assert.Equal(t, "created", msg.Event)
	var evt ChangeEvent
	require.NoError(t, json.Unmarshal(msg.Data, &evt))
	assert.Equal(t, models.CollectionSessions, evt.Collection)
	assert.Equal(t, "s1", evt.ID)
}

func TestServeWsRejects(t *testing.T) {
	_, srv := testServer(t)
	tests := []struct {
		query string
		code  int
	}{
		{"collection=sessions", http.StatusBadRequest},
		{"collection=credentials&token=stu", http.StatusBadRequest},
		{"collection=sessions&token=nope", http.StatusUnauthorized},
		{"collection=speakerProposals&token=stu", http.StatusForbidden},
	}
	for _, tt := range tests {
		_, resp, err := dial(srv, tt.query)
		require.Error(t, err, tt.query)
		require.NotNil(t, resp, tt.query)
		assert.Equal(t, tt.code, resp.StatusCode, tt.query)
	}

	conn, _, err := dial(srv, "collection=speakerProposals&token=fac")
	require.NoError(t, err)
	conn.Close()
}
