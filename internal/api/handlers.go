// Package api serves the document/tab/ACL management endpoints. These are
// thin reads and writes against the same store schema the sessions use; no
// coordination logic lives here.
package api

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/gorilla/mux"

	"collabdocs/server/internal/store"
)

const defaultTab = "Sheet 1"

type Handler struct {
	store  *store.Redis
	logger *slog.Logger
}

func New(st *store.Redis, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{store: st, logger: logger}
}

// Register mounts all CRUD routes on r.
func (h *Handler) Register(r *mux.Router) {
	r.HandleFunc("/api/docs/{userId}", h.listDocs).Methods(http.MethodGet)
	r.HandleFunc("/api/docs", h.createDoc).Methods(http.MethodPost)
	r.HandleFunc("/api/doc/{docId}/users", h.docUsers).Methods(http.MethodGet)
	r.HandleFunc("/api/doc/{docId}/user", h.upsertUser).Methods(http.MethodPost)
	r.HandleFunc("/api/doc/{docId}/user", h.removeUser).Methods(http.MethodDelete)
	r.HandleFunc("/api/doc/{docId}/link-settings", h.setLinkAccess).Methods(http.MethodPost)
	r.HandleFunc("/api/doc/{docId}/tabs", h.listTabs).Methods(http.MethodGet)
	r.HandleFunc("/api/doc/{docId}/tabs", h.addTab).Methods(http.MethodPost)
}

// CORS allows the editor frontend, served from another origin, to call the
// API and is a no-op for same-origin callers.
func CORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (h *Handler) listDocs(w http.ResponseWriter, r *http.Request) {
	userID := mux.Vars(r)["userId"]
	docs, err := h.store.UserDocs(r.Context(), userID)
	if err != nil {
		h.fail(w, err)
		return
	}
	if docs == nil {
		docs = []string{}
	}
	h.respond(w, docs)
}

func (h *Handler) createDoc(w http.ResponseWriter, r *http.Request) {
	var req struct {
		UserID string `json:"userId"`
		DocID  string `json:"docId"`
	}
	if !h.decode(w, r, &req) {
		return
	}
	ctx := r.Context()
	if err := h.store.AddUserDoc(ctx, req.UserID, req.DocID); err != nil {
		h.fail(w, err)
		return
	}
	if err := h.store.SetOwner(ctx, req.DocID, req.UserID); err != nil {
		h.fail(w, err)
		return
	}
	if err := h.store.AddTab(ctx, req.DocID, defaultTab); err != nil {
		h.fail(w, err)
		return
	}
	if err := h.store.SetACLRole(ctx, req.DocID, req.UserID, "owner"); err != nil {
		h.fail(w, err)
		return
	}
	if err := h.store.SetLinkAccess(ctx, req.DocID, store.LinkAccessNone); err != nil {
		h.fail(w, err)
		return
	}
	h.respond(w, map[string]bool{"success": true})
}

func (h *Handler) docUsers(w http.ResponseWriter, r *http.Request) {
	docID := mux.Vars(r)["docId"]
	ctx := r.Context()
	acl, err := h.store.ACL(ctx, docID)
	if err != nil {
		h.fail(w, err)
		return
	}
	linkAccess, err := h.store.LinkAccess(ctx, docID)
	if err != nil {
		h.fail(w, err)
		return
	}
	h.respond(w, map[string]any{"acl": acl, "linkAccess": linkAccess})
}

func (h *Handler) upsertUser(w http.ResponseWriter, r *http.Request) {
	docID := mux.Vars(r)["docId"]
	var req struct {
		OwnerID string `json:"ownerId"`
		Email   string `json:"email"`
		Role    string `json:"role"`
	}
	if !h.decode(w, r, &req) {
		return
	}
	ctx := r.Context()
	if !h.requireOwner(w, r, docID, req.OwnerID) {
		return
	}
	if err := h.store.SetACLRole(ctx, docID, req.Email, req.Role); err != nil {
		h.fail(w, err)
		return
	}
	// The invitee sees the document on their dashboard from now on.
	if err := h.store.AddUserDoc(ctx, req.Email, docID); err != nil {
		h.fail(w, err)
		return
	}
	h.respond(w, map[string]bool{"success": true})
}

func (h *Handler) removeUser(w http.ResponseWriter, r *http.Request) {
	docID := mux.Vars(r)["docId"]
	var req struct {
		OwnerID string `json:"ownerId"`
		Email   string `json:"email"`
	}
	if !h.decode(w, r, &req) {
		return
	}
	if !h.requireOwner(w, r, docID, req.OwnerID) {
		return
	}
	if err := h.store.RemoveACLRole(r.Context(), docID, req.Email); err != nil {
		h.fail(w, err)
		return
	}
	h.respond(w, map[string]bool{"success": true})
}

func (h *Handler) setLinkAccess(w http.ResponseWriter, r *http.Request) {
	docID := mux.Vars(r)["docId"]
	var req struct {
		OwnerID    string `json:"ownerId"`
		LinkAccess string `json:"linkAccess"`
	}
	if !h.decode(w, r, &req) {
		return
	}
	if !h.requireOwner(w, r, docID, req.OwnerID) {
		return
	}
	if err := h.store.SetLinkAccess(r.Context(), docID, req.LinkAccess); err != nil {
		h.fail(w, err)
		return
	}
	h.respond(w, map[string]bool{"success": true})
}

func (h *Handler) listTabs(w http.ResponseWriter, r *http.Request) {
	docID := mux.Vars(r)["docId"]
	ctx := r.Context()
	tabs, err := h.store.Tabs(ctx, docID)
	if err != nil {
		h.fail(w, err)
		return
	}
	if len(tabs) == 0 {
		// Seed the default tab so every document opens with one sheet.
		if err := h.store.AddTab(ctx, docID, defaultTab); err != nil {
			h.fail(w, err)
			return
		}
		tabs = []string{defaultTab}
	}
	h.respond(w, tabs)
}

func (h *Handler) addTab(w http.ResponseWriter, r *http.Request) {
	docID := mux.Vars(r)["docId"]
	var req struct {
		TabName string `json:"tabName"`
	}
	if !h.decode(w, r, &req) {
		return
	}
	if err := h.store.AddTab(r.Context(), docID, req.TabName); err != nil {
		h.fail(w, err)
		return
	}
	h.respond(w, map[string]bool{"success": true})
}

// requireOwner answers the mutation with 403 unless ownerID really owns the
// document. An unregistered document has no owner and nobody passes.
func (h *Handler) requireOwner(w http.ResponseWriter, r *http.Request, docID, ownerID string) bool {
	owner, err := h.store.Owner(r.Context(), docID)
	if err != nil {
		h.fail(w, err)
		return false
	}
	if owner == "" || owner != ownerID {
		h.respondStatus(w, http.StatusForbidden, map[string]string{"error": "Not owner"})
		return false
	}
	return true
}

func (h *Handler) decode(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		h.respondStatus(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
		return false
	}
	return true
}

func (h *Handler) respond(w http.ResponseWriter, v any) {
	h.respondStatus(w, http.StatusOK, v)
}

func (h *Handler) respondStatus(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		h.logger.Warn("write response failed", "err", err)
	}
}

func (h *Handler) fail(w http.ResponseWriter, err error) {
	h.logger.Error("store operation failed", "err", err)
	h.respondStatus(w, http.StatusInternalServerError, map[string]string{"error": "internal error"})
}
