package fathom

import (
	"fmt"
	"net/http"

	"github.com/gorilla/websocket"
)

// transportKey carries the raw transport pair through the request context,
// so the upgrade path can reach net/http state without the core's Request
// type referencing transport types.
type transportKey struct{}

type transportPair struct {
	rw http.ResponseWriter
	r  *http.Request
}

// wsUpgrader performs the WebSocket handshake for UpgradeWebSocket.
var wsUpgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
}

// UpgradeWebSocket hijacks the request's underlying connection and performs
// a WebSocket handshake. It only works inside a producer running under the
// net/http channel adapter; the producer must return HijackedResponse so
// the pipeline does not attempt a second write on the connection.
func UpgradeWebSocket(req *Request) (*websocket.Conn, error) {
	pair, ok := req.Context().Value(transportKey{}).(transportPair)
	if !ok {
		return nil, fmt.Errorf("fathom: request did not arrive through an upgradable channel")
	}

	return wsUpgrader.Upgrade(pair.rw, pair.r, nil)
}

// HijackedResponse is returned by producers that took over the connection
// themselves (a WebSocket session, typically); executing it writes
// nothing.
func HijackedResponse() *ResponsePlan {
	return newPlan(0, contentHijacked)
}
