package socket

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"coffee-trace-api-server/internal/models"
)

var upgrader = websocket.Upgrader{}

// serve registers every connection under the cooperative in the query string.
func serve(t *testing.T, hub *Hub, coopID int64) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		c := hub.Register(coopID, 1, conn)
		defer hub.Unregister(c)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

func dial(t *testing.T, srv *httptest.Server) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func TestBroadcastReachesOnlyOwnCooperative(t *testing.T) {
	hub := NewHub(nil)
	mine := dial(t, serve(t, hub, 1))
	theirs := dial(t, serve(t, hub, 2))

	require.Eventually(t, func() bool {
		return hub.ClientCount(1) == 1 && hub.ClientCount(2) == 1
	}, time.Second, 5*time.Millisecond)

	hub.BatchCreated(&models.HarvestBatch{ID: 9, BatchCode: "BATCH-1-2-3", CooperativeID: 1})

	require.NoError(t, mine.SetReadDeadline(time.Now().Add(time.Second)))
	_, raw, err := mine.ReadMessage()
	require.NoError(t, err)

	var ev Event
	require.NoError(t, json.Unmarshal(raw, &ev))
	assert.Equal(t, EventBatchCreated, ev.Type)
	assert.Equal(t, "BATCH-1-2-3", ev.Batch.BatchCode)

	require.NoError(t, theirs.SetReadDeadline(time.Now().Add(50*time.Millisecond)))
	_, _, err = theirs.ReadMessage()
	assert.Error(t, err, "cooperative 2 must not receive cooperative 1 events")
}

func TestStatusChangedEventCarriesPreviousStatus(t *testing.T) {
	hub := NewHub(nil)
	conn := dial(t, serve(t, hub, 1))
	require.Eventually(t, func() bool { return hub.ClientCount(1) == 1 }, time.Second, 5*time.Millisecond)

	hub.BatchStatusChanged(&models.HarvestBatch{ID: 9, CooperativeID: 1, Status: models.StatusVerified}, models.StatusLogged)

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(time.Second)))
	var ev Event
	require.NoError(t, conn.ReadJSON(&ev))
	assert.Equal(t, EventBatchStatusChanged, ev.Type)
	assert.Equal(t, models.StatusLogged, ev.FromStatus)
	assert.Equal(t, models.StatusVerified, ev.Batch.Status)
}

func TestUnregisterIsIdempotent(t *testing.T) {
	hub := NewHub(nil)
	conn := dial(t, serve(t, hub, 3))
	require.Eventually(t, func() bool { return hub.ClientCount(3) == 1 }, time.Second, 5*time.Millisecond)

	require.NoError(t, conn.Close())
	require.Eventually(t, func() bool { return hub.ClientCount(3) == 0 }, time.Second, 5*time.Millisecond)

	hub.Broadcast(3, []byte(`{}`))
}
