// SPDX-FileCopyrightText: 2025 Jon Thor Kristinsson
// SPDX-License-Identifier: Apache-2.0

// Package streaming provides the push-based companions to the request
// surface's poll-style operations: a WebSocket feed of job state changes
// for queue_status subscribers, and a Server-Sent Events feed of a single
// queued job's stdout/stderr lines, chosen by job id. The synchronous run
// operation's output is not streamed by either feed.
package streaming

import (
	"context"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/boltzgen/queued/pkg/watch"
)

// QueueStatusServer pushes job state-change events detected by a
// watch.JobPoller to subscribed WebSocket clients. This wraps the same
// polling loop the queue core could otherwise only be asked about
// synchronously via queue_status.
type QueueStatusServer struct {
	poller   *watch.JobPoller
	upgrader websocket.Upgrader
}

// connWriter serializes writes to a single *websocket.Conn: gorilla/websocket
// allows only one concurrent writer, but the event loop and the keepalive
// ticker both write to the same connection from separate goroutines.
type connWriter struct {
	mu   sync.Mutex
	conn *websocket.Conn
}

func (c *connWriter) writeJSON(v interface{}) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn.WriteJSON(v)
}

func (c *connWriter) writeMessage(messageType int, data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn.WriteMessage(messageType, data)
}

// NewQueueStatusServer creates a server backed by the given poller.
func NewQueueStatusServer(poller *watch.JobPoller) *QueueStatusServer {
	return &QueueStatusServer{
		poller: poller,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
}

// StreamMessage is the envelope sent over the WebSocket connection.
type StreamMessage struct {
	Type      string      `json:"type"`
	Data      interface{} `json:"data,omitempty"`
	Timestamp time.Time   `json:"timestamp"`
	Error     string      `json:"error,omitempty"`
}

// HandleWebSocket upgrades the connection and streams job events until the
// client disconnects or the request context is cancelled.
func (s *QueueStatusServer) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("websocket upgrade error: %v", err)
		return
	}
	defer func() {
		if cerr := conn.Close(); cerr != nil {
			log.Printf("websocket close error: %v", cerr)
		}
	}()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	cw := &connWriter{conn: conn}

	go s.discardIncoming(ctx, conn, cancel)
	go s.keepAlive(ctx, cw)

	jobIDs := parseJobIDs(r.URL.Query().Get("job_ids"))
	var opts *watch.WatchOptions
	if len(jobIDs) > 0 {
		opts = &watch.WatchOptions{JobIDs: jobIDs}
	}

	events, err := s.poller.Watch(ctx, opts)
	if err != nil {
		s.sendMessage(cw, StreamMessage{Type: "error", Error: err.Error(), Timestamp: time.Now()})
		return
	}

	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-events:
			if !ok {
				s.sendMessage(cw, StreamMessage{Type: "stream_closed", Timestamp: time.Now()})
				return
			}
			if event.EventType == "error" {
				s.sendMessage(cw, StreamMessage{Type: "error", Error: event.Err.Error(), Timestamp: time.Now()})
				continue
			}
			s.sendMessage(cw, StreamMessage{Type: event.EventType, Data: event, Timestamp: time.Now()})
		}
	}
}

// discardIncoming drains (and ignores) client frames so pings/pongs and
// close frames are processed; the stream is one-directional otherwise.
func (s *QueueStatusServer) discardIncoming(ctx context.Context, conn *websocket.Conn, cancel context.CancelFunc) {
	defer cancel()
	for {
		if _, _, err := conn.NextReader(); err != nil {
			return
		}
		select {
		case <-ctx.Done():
			return
		default:
		}
	}
}

func (s *QueueStatusServer) keepAlive(ctx context.Context, cw *connWriter) {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := cw.writeMessage(websocket.PingMessage, nil); err != nil {
				log.Printf("websocket ping error: %v", err)
				return
			}
		}
	}
}

func (s *QueueStatusServer) sendMessage(cw *connWriter, msg StreamMessage) {
	if err := cw.writeJSON(msg); err != nil {
		log.Printf("websocket write error: %v", err)
	}
}

func parseJobIDs(raw string) []string {
	if raw == "" {
		return nil
	}
	var ids []string
	start := 0
	for i := 0; i <= len(raw); i++ {
		if i == len(raw) || raw[i] == ',' {
			if id := raw[start:i]; id != "" {
				ids = append(ids, id)
			}
			start = i + 1
		}
	}
	return ids
}
