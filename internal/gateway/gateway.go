// Package gateway accepts websocket connections, resolves the caller's role
// on the requested document and wires admitted connections into their
// document session.
package gateway

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/gorilla/websocket"

	"collabdocs/server/internal/access"
	"collabdocs/server/internal/protocol"
	"collabdocs/server/internal/session"
)

// maxMessageSize bounds a single inbound frame. Whole-document updates ride
// in one frame, so this is generous.
const maxMessageSize = 1 << 20

// AccessStore is the slice of the store adapter admission needs.
type AccessStore interface {
	Owner(ctx context.Context, docID string) (string, error)
	ACL(ctx context.Context, docID string) (map[string]string, error)
	LinkAccess(ctx context.Context, docID string) (string, error)
}

type Handler struct {
	store    AccessStore
	registry *session.Registry
	logger   *slog.Logger
	upgrader websocket.Upgrader
}

func New(st AccessStore, reg *session.Registry, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		store:    st,
		registry: reg,
		logger:   logger,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
}

// ServeHTTP admits one client connection and pumps its messages until the
// transport closes. Admission outcomes:
//
//   - missing docId/tabId/userId: closed immediately, no message
//   - no resolvable role: one error message, then closed (terminal)
//   - store unreachable: logged and closed, no message
//   - otherwise: joined to the session for docId::tabId
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", "err", err)
		return
	}
	defer conn.Close()

	q := r.URL.Query()
	docID, tabID, userID := q.Get("docId"), q.Get("tabId"), q.Get("userId")
	if docID == "" || tabID == "" || userID == "" {
		return
	}

	ctx := r.Context()
	role, ok, err := h.resolveRole(ctx, docID, userID)
	if err != nil {
		h.logger.Error("role resolution failed", "doc", docID, "user", userID, "err", err)
		return
	}
	if !ok {
		h.logger.Info("access denied", "doc", docID, "user", userID)
		if b, err := json.Marshal(protocol.Message{Type: protocol.MsgError, Message: "Access Denied."}); err == nil {
			_ = conn.WriteMessage(websocket.TextMessage, b)
		}
		return
	}

	key := session.Key(docID, tabID)
	sess := h.registry.Acquire(key)
	defer h.registry.Release(key)

	t := newTransport(conn)
	connID := sess.AddUser(ctx, t, userID, role)
	defer sess.RemoveUser(connID)
	h.logger.Info("connection admitted", "doc", docID, "tab", tabID, "user", userID, "role", role)

	conn.SetReadLimit(maxMessageSize)
	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			h.logger.Debug("connection closed", "doc", docID, "user", userID, "err", err)
			return
		}
		var op protocol.Operation
		if err := json.Unmarshal(raw, &op); err != nil {
			h.logger.Warn("malformed operation discarded", "doc", docID, "user", userID, "err", err)
			continue
		}
		sess.HandleEdit(ctx, connID, op)
	}
}

func (h *Handler) resolveRole(ctx context.Context, docID, userID string) (access.Role, bool, error) {
	owner, err := h.store.Owner(ctx, docID)
	if err != nil {
		return "", false, err
	}
	acl, err := h.store.ACL(ctx, docID)
	if err != nil {
		return "", false, err
	}
	linkAccess, err := h.store.LinkAccess(ctx, docID)
	if err != nil {
		return "", false, err
	}
	role, ok := access.ResolveRole(owner, acl, linkAccess, userID)
	return role, ok, nil
}
