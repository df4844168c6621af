package websocket

import (
	"time"

	"github.com/gorilla/websocket"
)

// Deadlines for monitor sessions. Monitors are passive consumers; the read
// deadline only has to outlive the client's ping cadence.
const (
	writeTimeout = 10 * time.Second
	readTimeout  = 5 * time.Minute
)

// WriteFrame sends one typed frame, bounded by the write deadline.
func WriteFrame(conn *websocket.Conn, v interface{}) error {
	conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	return conn.WriteJSON(v)
}

// WriteError sends a typed ErrorResponse.
func WriteError(conn *websocket.Conn, errMsg string) error {
	return WriteFrame(conn, ErrorResponse{
		Event: EventError,
		Error: errMsg,
	})
}

// ReadEnvelope reads the next client message, bounded by the read deadline.
func ReadEnvelope(conn *websocket.Conn, v interface{}) error {
	conn.SetReadDeadline(time.Now().Add(readTimeout))
	return conn.ReadJSON(v)
}
