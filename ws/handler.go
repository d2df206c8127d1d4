package ws

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"healthassist/herr"
	"healthassist/identity"
	"healthassist/telemetry"
)

const (
	writeWait    = 10 * time.Second
	pongWait     = 60 * time.Second
	pingInterval = (pongWait * 9) / 10
)

type snapshotMessage struct {
	Type   string             `json:"type"`
	Series []telemetry.Record `json:"series"`
}

type recordMessage struct {
	Type   string           `json:"type"`
	Record telemetry.Record `json:"record"`
}

func writeMessage(messageType int, data []byte, conn *websocket.Conn, writeMu *sync.Mutex) error {
	// you can't write concurrently to a websocket so we need to use a mutex
	writeMu.Lock()
	defer writeMu.Unlock()
	if err := conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		return err
	}
	return conn.WriteMessage(messageType, data)
}

func writeJSON(v any, conn *websocket.Conn, writeMu *sync.Mutex) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return writeMessage(websocket.TextMessage, data, conn, writeMu)
}

// WS streams a user's telemetry series: the current series first, then every
// record appended while the connection is open.
type WS struct {
	telemetry *telemetry.Store
	upgrader  websocket.Upgrader
}

// New accepts connections from allowedOrigins, and from clients that send no
// Origin header at all.
func New(ts *telemetry.Store, allowedOrigins map[string]struct{}) *WS {
	return &WS{
		telemetry: ts,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				origin := r.Header.Get("Origin")
				if origin == "" {
					return true
				}
				_, ok := allowedOrigins[origin]
				return ok
			},
		},
	}
}

func (ws *WS) Handle(w http.ResponseWriter, r *http.Request) *herr.Error {
	userID, err := identity.FromRequest(r)
	if err != nil {
		return herr.From(err, "resolving stream user")
	}

	conn, err := ws.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// The upgrader has already replied.
		slog.Warn("Failed to upgrade connection", "error", err)
		return nil
	}
	defer conn.Close()

	// Subscribe before taking the snapshot so nothing appended in between is
	// lost. Such a record can show up twice.
	records, unsubscribe := ws.telemetry.Subscribe(userID)
	defer unsubscribe()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	var writeMu sync.Mutex
	snapshot := snapshotMessage{Type: "snapshot", Series: ws.telemetry.Read(userID)}
	if err := writeJSON(snapshot, conn, &writeMu); err != nil {
		herr.WS(conn, err, "error sending snapshot")
		return nil
	}
	slog.Info("Telemetry stream opened", "user_id", userID)

	go readPump(conn, cancel)

	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			slog.Info("Telemetry stream closed", "user_id", userID)
			return nil
		case rec, ok := <-records:
			if !ok {
				herr.WSClose(conn, "stream ended")
				return nil
			}
			if err := writeJSON(recordMessage{Type: "record", Record: rec}, conn, &writeMu); err != nil {
				herr.WS(conn, err, "error sending record")
				return nil
			}
		case <-ticker.C:
			if err := writeMessage(websocket.PingMessage, nil, conn, &writeMu); err != nil {
				slog.Warn("Ping failed", "user_id", userID, "error", err)
				return nil
			}
		}
	}
}

// readPump drains client frames so pongs and close frames are processed. The
// stream is one way; anything the client sends is ignored.
func readPump(conn *websocket.Conn, cancel context.CancelFunc) {
	defer cancel()

	conn.SetReadLimit(512)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			if websocket.IsCloseError(
				err,
				websocket.CloseNormalClosure,
				websocket.CloseGoingAway,
				websocket.CloseNoStatusReceived,
			) {
				slog.Info("WebSocket closed by client")
			} else {
				slog.Warn("WebSocket read error", "error", err)
			}
			return
		}
	}
}
