package fathom

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestUpgradeWebSocketEcho(t *testing.T) {
	a := New()
	a.Logger.Enabled = false

	a.Group().Static([]string{http.MethodGet}, "/ws", func(req *Request) (*ResponsePlan, error) {
		conn, err := UpgradeWebSocket(req)
		if err != nil {
			return nil, err
		}

		go func() {
			defer conn.Close()
			mt, msg, err := conn.ReadMessage()
			if err != nil {
				return
			}
			conn.WriteMessage(mt, msg)
		}()

		return HijackedResponse(), nil
	})

	require.NoError(t, a.Compile())

	srv := httptest.NewServer(a)
	defer srv.Close()

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	defer conn.Close()

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte("ping")))

	_, msg, err := conn.ReadMessage()
	require.NoError(t, err)
	assert.Equal(t, "ping", string(msg))
}

func TestUpgradeWebSocketOutsideAdapter(t *testing.T) {
	_, err := UpgradeWebSocket(&Request{})
	assert.Error(t, err)
}
