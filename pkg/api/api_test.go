package api

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/ezmesh/meshdm/pkg/crypto"
	"github.com/ezmesh/meshdm/pkg/dm"
	"github.com/ezmesh/meshdm/pkg/mesh"
	"github.com/ezmesh/meshdm/pkg/protocol"
	"github.com/ezmesh/meshdm/pkg/storage"
)

// apiTransport is a transport stub that accepts everything
type apiTransport struct {
	ident *crypto.Identity
	dir   *mesh.Directory
}

func (t *apiTransport) LocalHopID() byte { return t.ident.HopID() }

func (t *apiTransport) LocalIdentity() mesh.PeerIdentity {
	return mesh.PeerIdentity{PublicKey: t.ident.PublicKey(), Name: "basenode"}
}

func (t *apiTransport) Send(route protocol.RouteKind, kind protocol.PayloadKind, path, payload []byte) bool {
	return true
}

func (t *apiTransport) SharedSecret(peer protocol.PublicKey) ([32]byte, error) {
	return t.ident.SharedSecret(peer)
}

func (t *apiTransport) Sign(msg []byte) [protocol.SignatureSize]byte {
	return t.ident.Sign(msg)
}

func (t *apiTransport) Verify(peer protocol.PublicKey, msg, sig []byte) bool {
	return crypto.Verify(peer, msg, sig)
}

func (t *apiTransport) Resolve(hop byte) (mesh.PeerIdentity, bool) {
	return t.dir.ResolveHop(hop)
}

func newTestServer(t *testing.T, config *Config) (*Server, *dm.Engine, *mesh.Directory) {
	t.Helper()

	ident, err := crypto.NewIdentity()
	require.NoError(t, err)

	dir := mesh.NewDirectory()
	transport := &apiTransport{ident: ident, dir: dir}
	engine := dm.NewEngine(transport, storage.NewMemoryStore(), mesh.SystemClock{}, zap.NewNop())
	require.NoError(t, engine.Load())

	return NewServer(engine, transport, dir, config, zap.NewNop()), engine, dir
}

func peerKey(t *testing.T) protocol.PublicKey {
	t.Helper()
	ident, err := crypto.NewIdentity()
	require.NoError(t, err)
	return ident.PublicKey()
}

func doJSON(server *Server, method, url string, body interface{}) *httptest.ResponseRecorder {
	var reader *bytes.Reader
	if body != nil {
		raw, _ := json.Marshal(body)
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}

	req := httptest.NewRequest(method, url, reader)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	server.router.ServeHTTP(w, req)
	return w
}

func TestAPIConversationFlow(t *testing.T) {
	server, _, _ := newTestServer(t, nil)
	peer := peerKey(t)

	t.Run("Send", func(t *testing.T) {
		w := doJSON(server, "POST",
			fmt.Sprintf("/api/v1/conversations/%s/messages", peer), SendRequest{Text: "hello bob"})
		assert.Equal(t, http.StatusOK, w.Code)

		var resp SendResponse
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
		assert.True(t, resp.Success)
		assert.True(t, resp.Message.Outgoing)
		assert.Equal(t, "hello bob", resp.Message.Text)
		assert.Equal(t, uint16(1), resp.Message.Counter)
	})

	t.Run("List", func(t *testing.T) {
		w := doJSON(server, "GET", "/api/v1/conversations", nil)
		assert.Equal(t, http.StatusOK, w.Code)

		var resp ConversationsResponse
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
		assert.True(t, resp.Success)
		require.Equal(t, 1, resp.Count)
		assert.Equal(t, peer, resp.Conversations[0].Peer)
		assert.Equal(t, 1, resp.Conversations[0].MessageCount)
	})

	t.Run("Messages", func(t *testing.T) {
		w := doJSON(server, "GET",
			fmt.Sprintf("/api/v1/conversations/%s/messages", peer), nil)
		assert.Equal(t, http.StatusOK, w.Code)

		var resp MessagesResponse
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
		require.Equal(t, 1, resp.Count)
		assert.Equal(t, "hello bob", resp.Messages[0].Text)
		assert.Equal(t, peer, resp.Peer)
	})

	t.Run("MarkRead", func(t *testing.T) {
		w := doJSON(server, "POST",
			fmt.Sprintf("/api/v1/conversations/%s/read", peer), nil)
		assert.Equal(t, http.StatusOK, w.Code)
	})

	t.Run("UnknownPeerIsEmpty", func(t *testing.T) {
		w := doJSON(server, "GET",
			fmt.Sprintf("/api/v1/conversations/%s/messages", peerKey(t)), nil)
		assert.Equal(t, http.StatusOK, w.Code)

		var resp MessagesResponse
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
		assert.Equal(t, 0, resp.Count)
	})

	t.Run("MalformedPeer", func(t *testing.T) {
		w := doJSON(server, "GET", "/api/v1/conversations/nothex/messages", nil)
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})
}

func TestAPISendValidation(t *testing.T) {
	server, _, _ := newTestServer(t, nil)
	peer := peerKey(t)
	url := fmt.Sprintf("/api/v1/conversations/%s/messages", peer)

	w := doJSON(server, "POST", url, SendRequest{Text: ""})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = doJSON(server, "POST", url, SendRequest{Text: strings.Repeat("x", protocol.MaxTextLen+1)})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	req := httptest.NewRequest("POST", url, strings.NewReader("{not json"))
	rec := httptest.NewRecorder()
	server.router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestAPINodeEndpoints(t *testing.T) {
	server, _, dir := newTestServer(t, nil)

	t.Run("Info", func(t *testing.T) {
		w := doJSON(server, "GET", "/api/v1/node/info", nil)
		assert.Equal(t, http.StatusOK, w.Code)

		var resp NodeInfoResponse
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
		assert.True(t, resp.Success)
		assert.Equal(t, "basenode", resp.Name)
		assert.Equal(t, server.transport.LocalIdentity().PublicKey, resp.PublicKey)
		assert.Equal(t, 0, resp.Peers)
	})

	t.Run("Peers", func(t *testing.T) {
		bob := peerKey(t)
		dir.Update(mesh.PeerIdentity{PublicKey: bob, Name: "bob"}, 42, -81, 9.5, time.Now())

		w := doJSON(server, "GET", "/api/v1/node/peers", nil)
		assert.Equal(t, http.StatusOK, w.Code)

		var resp PeersResponse
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
		require.Equal(t, 1, resp.Count)
		assert.Equal(t, "bob", resp.Peers[0].Name)
		assert.Equal(t, bob, resp.Peers[0].PublicKey)
		assert.Equal(t, uint32(42), resp.Peers[0].AdvertTimestamp)
	})

	t.Run("Health", func(t *testing.T) {
		w := doJSON(server, "GET", "/health", nil)
		assert.Equal(t, http.StatusOK, w.Code)

		var resp HealthResponse
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
		assert.Equal(t, "healthy", resp.Status)
	})
}

func TestAPIEventStream(t *testing.T) {
	server, _, _ := newTestServer(t, nil)
	peer := peerKey(t)

	ts := httptest.NewServer(server.router)
	defer ts.Close()
	defer server.Stop()

	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http") + "/api/v1/events"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	defer conn.Close()

	// The handler registers the client just after the handshake.
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		server.events.mu.Lock()
		n := len(server.events.clients)
		server.events.mu.Unlock()
		if n == 1 {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}

	server.NotifyMessage(peer, dm.Message{Text: "incoming", Counter: 3})
	server.NotifyStatus(peer, dm.Message{Text: "sent", Counter: 1, Acked: true})

	conn.SetReadDeadline(time.Now().Add(5 * time.Second))

	var first Event
	require.NoError(t, conn.ReadJSON(&first))
	assert.Equal(t, EventMessage, first.Type)
	assert.Equal(t, peer, first.Peer)
	assert.Equal(t, "incoming", first.Message.Text)

	var second Event
	require.NoError(t, conn.ReadJSON(&second))
	assert.Equal(t, EventStatus, second.Type)
	assert.True(t, second.Message.Acked)
}

func TestAPIRateLimit(t *testing.T) {
	config := DefaultConfig()
	config.RateLimit = 3
	server, _, _ := newTestServer(t, config)

	for i := 0; i < 3; i++ {
		w := doJSON(server, "GET", "/health", nil)
		assert.Equal(t, http.StatusOK, w.Code)
	}

	w := doJSON(server, "GET", "/health", nil)
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
}
