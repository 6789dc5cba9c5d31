package server

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"session-relay/internal/config"
	"session-relay/internal/protocol"
)

func startServer(t *testing.T, cfg config.Config) *httptest.Server {
	t.Helper()
	ts := httptest.NewServer(New(cfg, zerolog.Nop()).Handler())
	t.Cleanup(ts.Close)
	return ts
}

// dial connects a WebSocket client and consumes its ClientConnect
// announcement, returning the connection and the assigned client id.
func dial(t *testing.T, ts *httptest.Server) (*websocket.Conn, string) {
	t.Helper()
	u := "ws" + strings.TrimPrefix(ts.URL, "http") + "/api/v1/ws"
	ws, _, err := websocket.DefaultDialer.Dial(u, nil)
	require.NoError(t, err)
	t.Cleanup(func() { ws.Close() })

	hello := readMsg[protocol.ClientConnect](t, ws)
	require.Equal(t, protocol.TypeClientConnect, hello.Type)
	require.NotEmpty(t, hello.Client.ID)
	return ws, hello.Client.ID
}

func readMsg[M protocol.Msg](t *testing.T, ws *websocket.Conn) M {
	t.Helper()
	ws.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, frame, err := ws.ReadMessage()
	require.NoError(t, err)
	var msg M
	require.NoError(t, json.Unmarshal(frame, &msg))
	return msg
}

func writeMsg(t *testing.T, ws *websocket.Conn, msg protocol.Msg) {
	t.Helper()
	frame, err := protocol.Encode(msg)
	require.NoError(t, err)
	require.NoError(t, ws.WriteMessage(websocket.TextMessage, frame))
}

func TestWebSocketAnnouncesIdentityOnConnect(t *testing.T) {
	ts := startServer(t, config.Config{SendBuffer: 32})
	_, clientID := dial(t, ts)
	assert.NotEmpty(t, clientID)
}

func TestSessionLifecycleEndToEnd(t *testing.T) {
	ts := startServer(t, config.Config{SendBuffer: 32})

	// A connects and creates a session.
	wsA, idA := dial(t, ts)
	writeMsg(t, wsA, protocol.CreateSession{Type: protocol.TypeCreateSession})
	created := readMsg[protocol.ClientJoinedSession](t, wsA)
	require.Equal(t, idA, created.SessionOwnerID)
	sessionID := created.SessionID

	// A adds B; both see the two-member snapshot.
	wsB, idB := dial(t, ts)
	writeMsg(t, wsA, protocol.AddSessionClient{
		Type:        protocol.TypeAddSessionClient,
		SessionID:   sessionID,
		AddClientID: idB,
	})
	for _, ws := range []*websocket.Conn{wsA, wsB} {
		joined := readMsg[protocol.ClientJoinedSession](t, ws)
		assert.Equal(t, idB, joined.ClientID)
		assert.Equal(t, sessionID, joined.SessionID)
		assert.Len(t, joined.ClientMap, 2)
		assert.Contains(t, joined.ClientMap, idA)
		assert.Contains(t, joined.ClientMap, idB)
	}

	// Owner broadcast reaches B, flagged as from the owner.
	writeMsg(t, wsA, protocol.BroadcastToSession{
		Type: protocol.TypeBroadcastToSession, SessionID: sessionID, Payload: "hi",
	})
	got := readMsg[protocol.BroadcastFromSession](t, wsB)
	assert.True(t, got.FromSessionOwner)
	assert.Equal(t, idA, got.SenderID)
	assert.Equal(t, "hi", got.Payload)

	// No echo: the next frame A sees is B's reply, not its own "hi".
	writeMsg(t, wsB, protocol.BroadcastToSession{
		Type: protocol.TypeBroadcastToSession, SessionID: sessionID, Payload: "yo",
	})
	reply := readMsg[protocol.BroadcastFromSession](t, wsA)
	assert.False(t, reply.FromSessionOwner)
	assert.Equal(t, idB, reply.SenderID)
	assert.Equal(t, "yo", reply.Payload)

	// B drops; A gets a left-notification with just itself, and a
	// re-add of B now fails.
	require.NoError(t, wsB.Close())
	left := readMsg[protocol.ClientLeftSession](t, wsA)
	assert.Equal(t, idB, left.ClientID)
	assert.Equal(t, sessionID, left.SessionID)
	require.Len(t, left.ClientMap, 1)
	assert.Contains(t, left.ClientMap, idA)

	writeMsg(t, wsA, protocol.AddSessionClient{
		Type:        protocol.TypeAddSessionClient,
		SessionID:   sessionID,
		AddClientID: idB,
	})
	errMsg := readMsg[protocol.Error](t, wsA)
	assert.Contains(t, errMsg.Message, "no client with id")
}

func TestNonOwnerAddIsRejected(t *testing.T) {
	ts := startServer(t, config.Config{SendBuffer: 32})

	wsA, idA := dial(t, ts)
	writeMsg(t, wsA, protocol.CreateSession{Type: protocol.TypeCreateSession})
	created := readMsg[protocol.ClientJoinedSession](t, wsA)

	wsC, idC := dial(t, ts)
	_, idD := dial(t, ts)

	writeMsg(t, wsA, protocol.AddSessionClient{
		Type:        protocol.TypeAddSessionClient,
		SessionID:   created.SessionID,
		AddClientID: idC,
	})
	readMsg[protocol.ClientJoinedSession](t, wsA)
	readMsg[protocol.ClientJoinedSession](t, wsC)

	writeMsg(t, wsC, protocol.AddSessionClient{
		Type:        protocol.TypeAddSessionClient,
		SessionID:   created.SessionID,
		AddClientID: idD,
	})
	errMsg := readMsg[protocol.Error](t, wsC)
	assert.Contains(t, errMsg.Message, "owner")

	// Membership is unchanged.
	res, err := http.Get(ts.URL + "/api/v1/sessions")
	require.NoError(t, err)
	defer res.Body.Close()
	var sessions []struct {
		ID        string   `json:"id"`
		ClientIDs []string `json:"clientIds"`
	}
	require.NoError(t, json.NewDecoder(res.Body).Decode(&sessions))
	require.Len(t, sessions, 1)
	assert.ElementsMatch(t, []string{idA, idC}, sessions[0].ClientIDs)
}

func TestRenameIsVisibleToPeers(t *testing.T) {
	ts := startServer(t, config.Config{SendBuffer: 32})

	wsA, _ := dial(t, ts)
	writeMsg(t, wsA, protocol.CreateSession{Type: protocol.TypeCreateSession})
	created := readMsg[protocol.ClientJoinedSession](t, wsA)

	wsB, idB := dial(t, ts)
	writeMsg(t, wsA, protocol.AddSessionClient{
		Type:        protocol.TypeAddSessionClient,
		SessionID:   created.SessionID,
		AddClientID: idB,
	})
	readMsg[protocol.ClientJoinedSession](t, wsA)
	readMsg[protocol.ClientJoinedSession](t, wsB)

	writeMsg(t, wsB, protocol.UpdateClient{Type: protocol.TypeUpdateClient, Name: "bob"})
	refresh := readMsg[protocol.ClientJoinedSession](t, wsA)
	assert.Equal(t, idB, refresh.ClientID)
	assert.Equal(t, "bob", refresh.ClientMap[idB].Name)
}

func TestDebugEndpoints(t *testing.T) {
	ts := startServer(t, config.Config{SendBuffer: 32})
	_, clientID := dial(t, ts)

	res, err := http.Get(ts.URL + "/api/v1/clients")
	require.NoError(t, err)
	defer res.Body.Close()
	require.Equal(t, http.StatusOK, res.StatusCode)
	assert.Equal(t, "application/json", res.Header.Get("Content-Type"))

	var clients []struct {
		ID string `json:"id"`
	}
	require.NoError(t, json.NewDecoder(res.Body).Decode(&clients))
	require.Len(t, clients, 1)
	assert.Equal(t, clientID, clients[0].ID)

	res, err = http.Get(ts.URL + "/api/v1/sessions")
	require.NoError(t, err)
	defer res.Body.Close()
	assert.Equal(t, http.StatusOK, res.StatusCode)
}

func TestNoticeEndpointFansOut(t *testing.T) {
	ts := startServer(t, config.Config{SendBuffer: 32})
	wsA, _ := dial(t, ts)
	wsB, _ := dial(t, ts)

	body := bytes.NewBufferString(`{"message":"going down for maintenance"}`)
	res, err := http.Post(ts.URL+"/api/v1/notice", "application/json", body)
	require.NoError(t, err)
	res.Body.Close()
	require.Equal(t, http.StatusNoContent, res.StatusCode)

	for _, ws := range []*websocket.Conn{wsA, wsB} {
		info := readMsg[protocol.Info](t, ws)
		assert.Equal(t, protocol.TypeInfo, info.Type)
		assert.Equal(t, "going down for maintenance", info.Message)
	}
}

func TestMalformedFrameKeepsConnectionAlive(t *testing.T) {
	ts := startServer(t, config.Config{SendBuffer: 32})
	ws, _ := dial(t, ts)

	require.NoError(t, ws.WriteMessage(websocket.TextMessage, []byte(`{"no":"type"}`)))
	errMsg := readMsg[protocol.Error](t, ws)
	assert.Equal(t, protocol.TypeError, errMsg.Type)

	// The connection survives and keeps working.
	writeMsg(t, ws, protocol.CreateSession{Type: protocol.TypeCreateSession})
	created := readMsg[protocol.ClientJoinedSession](t, ws)
	assert.NotEmpty(t, created.SessionID)
}
