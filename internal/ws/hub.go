// Package ws fans live updates out to dashboard WebSocket clients.
package ws

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/mudler/xlog"

	"agenthub/internal/domain"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// Browsers connect from the dashboard origin; the HTTP layer already
	// enforces the CORS allowlist.
	CheckOrigin: func(*http.Request) bool { return true },
}

// Snapshots supplies current state for subscription replies.
type Snapshots struct {
	Agents   func(ctx context.Context) ([]domain.Agent, error)
	Projects func(ctx context.Context) ([]domain.Project, error)
}

// Frame constructors for the wire schema.

func AgentStatusFrame(agents []domain.Agent, ts string) map[string]any {
	if agents == nil {
		agents = []domain.Agent{}
	}
	return map[string]any{"type": "agent_status_update", "agents": agents, "timestamp": ts}
}

func ProjectStatusFrame(projects []domain.Project, ts string) map[string]any {
	if projects == nil {
		projects = []domain.Project{}
	}
	return map[string]any{"type": "project_status_update", "projects": projects, "timestamp": ts}
}

func TaskCreatedFrame(t domain.Task) map[string]any {
	return map[string]any{
		"type":        "agent_task_created",
		"task_id":     t.ID,
		"agent_id":    t.AgentID,
		"task_type":   t.TaskType,
		"description": t.Description,
		"priority":    t.Priority,
	}
}

type conn struct {
	ws *websocket.Conn
	mu sync.Mutex // serializes writes
}

func (c *conn) send(v any) error {
	payload, err := json.Marshal(v)
	if err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ws.WriteMessage(websocket.TextMessage, payload)
}

// Hub tracks connected clients and broadcasts frames to all of them.
type Hub struct {
	snapshots Snapshots
	now       func() time.Time

	mu    sync.Mutex
	conns map[*conn]struct{}
}

func NewHub(s Snapshots) *Hub {
	return &Hub{snapshots: s, now: time.Now, conns: map[*conn]struct{}{}}
}

func (h *Hub) stamp() string {
	return h.now().UTC().Format(time.RFC3339)
}

// ClientCount reports how many clients are connected.
func (h *Hub) ClientCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.conns)
}

// Broadcast sends one frame to every connected client. Clients whose
// write fails are dropped; the rest keep receiving.
func (h *Hub) Broadcast(frame any) {
	h.mu.Lock()
	targets := make([]*conn, 0, len(h.conns))
	for c := range h.conns {
		targets = append(targets, c)
	}
	h.mu.Unlock()

	for _, c := range targets {
		if err := c.send(frame); err != nil {
			xlog.Debug("dropping websocket client", "error", err.Error())
			h.drop(c)
		}
	}
}

func (h *Hub) drop(c *conn) {
	h.mu.Lock()
	delete(h.conns, c)
	h.mu.Unlock()
	c.ws.Close()
}

// Close disconnects every client.
func (h *Hub) Close() {
	h.mu.Lock()
	conns := make([]*conn, 0, len(h.conns))
	for c := range h.conns {
		conns = append(conns, c)
	}
	h.conns = map[*conn]struct{}{}
	h.mu.Unlock()
	for _, c := range conns {
		c.ws.Close()
	}
}

// ServeHTTP upgrades the request and runs the client read loop until
// the peer goes away.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	sock, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		xlog.Debug("websocket upgrade failed", "error", err.Error())
		return
	}
	c := &conn{ws: sock}
	h.mu.Lock()
	h.conns[c] = struct{}{}
	h.mu.Unlock()
	xlog.Debug("websocket client connected", "remote", r.RemoteAddr)

	defer h.drop(c)
	for {
		_, raw, err := sock.ReadMessage()
		if err != nil {
			return
		}
		h.handle(r.Context(), c, raw)
	}
}

func (h *Hub) handle(ctx context.Context, c *conn, raw []byte) {
	var msg map[string]any
	if err := json.Unmarshal(raw, &msg); err != nil {
		// Malformed frames are ignored rather than disconnecting the peer.
		return
	}
	msgType, _ := msg["type"].(string)
	switch msgType {
	case "ping":
		c.send(map[string]any{"type": "pong", "timestamp": h.stamp()})
	case "subscribe_agents":
		agents, err := h.snapshots.Agents(ctx)
		if err != nil {
			xlog.Error("agents snapshot failed", "error", err.Error())
			return
		}
		c.send(AgentStatusFrame(agents, h.stamp()))
	case "subscribe_projects":
		projects, err := h.snapshots.Projects(ctx)
		if err != nil {
			xlog.Error("projects snapshot failed", "error", err.Error())
			return
		}
		c.send(ProjectStatusFrame(projects, h.stamp()))
	default:
		c.send(map[string]any{"type": "echo", "message": msg})
	}
}
