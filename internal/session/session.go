// Package session implements the per-document coordination engine: one
// Session fans edits out across the live connections of a (document, tab)
// pair, persists content, chat and version history through the store, and
// throttles snapshots with a cross-process lock.
package session

import (
	"context"
	"encoding/json"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"collabdocs/server/internal/access"
	"collabdocs/server/internal/protocol"
)

const (
	// snapshotInterval is the minimum spacing between throttled history
	// snapshots of one document.
	snapshotInterval = 10 * time.Minute
	// historyFetchLimit caps how many snapshots a fetch_history returns.
	historyFetchLimit = 51

	// broadcastAll addresses every connection in the session.
	broadcastAll = ""

	// systemUser stamps broadcasts that no single connection authored.
	systemUser = "SYSTEM"
)

// Transport is the outbound half of a client connection. Send must be safe
// for concurrent use and must fail (rather than block) once the underlying
// connection is gone; the session treats a failed send as a silent skip.
type Transport interface {
	Send(msg []byte) error
}

// Store is the slice of the store adapter a session persists through.
type Store interface {
	Content(ctx context.Context, id string) (string, bool, error)
	SetContent(ctx context.Context, id, content string) error
	ChatHistory(ctx context.Context, id string) ([]protocol.ChatEntry, error)
	AppendChat(ctx context.Context, id string, entry protocol.ChatEntry) error
	ReplaceChatHistory(ctx context.Context, id string, entries []protocol.ChatEntry) error
	History(ctx context.Context, id string, limit int) ([]protocol.HistorySnapshot, error)
	PushSnapshot(ctx context.Context, id string, snap protocol.HistorySnapshot) error
	LastVersionTime(ctx context.Context, id string) (int64, error)
	SetLastVersionTime(ctx context.Context, id string, ts int64) error
	AcquireSnapshotLock(ctx context.Context, id string) (bool, error)
}

// connection is one live client attached to the session. Its role is fixed
// at admission time; ACL changes only affect later connections.
type connection struct {
	id        string
	transport Transport
	userID    string
	role      access.Role
	color     string
}

// Session coordinates all connections of one document/tab pair. A single
// mutex serializes every operation against it, which keeps map iteration
// safe and gives FIFO processing per connection.
type Session struct {
	docID  string
	store  Store
	logger *slog.Logger

	mu    sync.Mutex
	conns map[string]*connection

	nowFn      func() time.Time
	lastChatID int64
}

// New creates a session for docID, which is also the id its persisted state
// is keyed by.
func New(docID string, st Store, logger *slog.Logger) *Session {
	if logger == nil {
		logger = slog.Default()
	}
	return &Session{
		docID:  docID,
		store:  st,
		logger: logger.With("doc", docID),
		conns:  make(map[string]*connection),
		nowFn:  time.Now,
	}
}

// ConnCount returns the number of live connections.
func (s *Session) ConnCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.conns)
}

// AddUser registers a new connection and brings it up to date: it receives
// its role, the current presence list, the saved content if any exists, and
// the full chat history. Everyone else sees a join notice and a refreshed
// presence list. Persistence reads are best effort; a missing value means
// "nothing yet".
func (s *Session) AddUser(ctx context.Context, t Transport, userID string, role access.Role) string {
	s.mu.Lock()
	defer s.mu.Unlock()

	c := &connection{
		id:        uuid.NewString(),
		transport: t,
		userID:    userID,
		role:      role,
		color:     userColor(userID),
	}
	s.conns[c.id] = c

	s.send(c, protocol.Message{Type: protocol.MsgAccessInfo, Role: string(role), Message: "Joined as " + string(role)})
	s.broadcastMsg(c.id, protocol.Message{Type: protocol.MsgSystem, Message: "User " + userID + " joined", Color: "green"})
	s.broadcastUserList()

	if content, ok, err := s.store.Content(ctx, s.docID); err != nil {
		s.logger.Warn("load content failed", "err", err)
	} else if ok {
		s.send(c, protocol.Message{Type: protocol.MsgSync, Content: content})
	}

	if history, err := s.store.ChatHistory(ctx, s.docID); err != nil {
		s.logger.Warn("load chat history failed", "err", err)
	} else {
		s.send(c, protocol.Message{Type: protocol.MsgChatHistory, List: history})
	}

	return c.id
}

// RemoveUser drops a connection and notifies the remaining ones. Removing an
// unknown connection is a no-op, so a late disconnect cannot double-fire.
func (s *Session) RemoveUser(connID string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.conns[connID]
	if !ok {
		return
	}
	delete(s.conns, connID)
	s.broadcastMsg(connID, protocol.Message{Type: protocol.MsgSystem, Message: "User " + c.userID + " left", Color: "red"})
	s.broadcastUserList()
}

// HandleEdit dispatches one inbound operation. Operations from unknown
// connections and operations the sender's role does not permit are dropped
// without a reply. A store failure abandons the rest of that branch only;
// the session stays up.
func (s *Session) HandleEdit(ctx context.Context, connID string, op protocol.Operation) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sender, ok := s.conns[connID]
	if !ok {
		return
	}
	if !access.Permitted(sender.role, op.Type) {
		s.logger.Debug("operation not permitted", "kind", op.Type, "user", sender.userID, "role", sender.role)
		return
	}
	op.UserID = sender.userID

	switch op.Type {
	case protocol.OpTyping, protocol.OpCursor:
		s.broadcastOp(connID, op)
	case protocol.OpChat:
		if op.Message == "" {
			return
		}
		s.appendChat(ctx, sender, op)
	case protocol.OpDeleteChat:
		if op.ChatID == 0 {
			return
		}
		s.deleteChat(ctx, op.ChatID)
	case protocol.OpFetchHistory:
		s.sendHistory(ctx, sender)
	case protocol.OpRestore:
		if op.Content == "" {
			return
		}
		s.restore(ctx, sender, op.Content)
	case protocol.OpUpdate:
		if op.Content == "" {
			return
		}
		s.applyUpdate(ctx, sender, op)
	default:
		s.logger.Debug("unknown operation kind", "kind", op.Type)
	}
}

func (s *Session) appendChat(ctx context.Context, sender *connection, op protocol.Operation) {
	now := s.nowFn().UnixMilli()
	id := now
	if id <= s.lastChatID {
		id = s.lastChatID + 1
	}
	s.lastChatID = id

	entry := protocol.ChatEntry{
		ID:        id,
		User:      sender.userID,
		Message:   op.Message,
		Color:     sender.color,
		Timestamp: now,
	}
	if op.Quote != "" {
		quote := op.Quote
		entry.Quote = &quote
	}
	if err := s.store.AppendChat(ctx, s.docID, entry); err != nil {
		s.logger.Warn("append chat failed", "err", err)
		return
	}
	// Everyone, sender included, gets the full refreshed history so late
	// joiners and the author converge without merge logic.
	s.broadcastChatHistory(ctx)
}

func (s *Session) deleteChat(ctx context.Context, chatID int64) {
	history, err := s.store.ChatHistory(ctx, s.docID)
	if err != nil {
		s.logger.Warn("read chat failed", "err", err)
		return
	}
	kept := make([]protocol.ChatEntry, 0, len(history))
	for _, entry := range history {
		if entry.ID != chatID {
			kept = append(kept, entry)
		}
	}
	if err := s.store.ReplaceChatHistory(ctx, s.docID, kept); err != nil {
		s.logger.Warn("rewrite chat failed", "err", err)
		return
	}
	s.broadcastChatHistory(ctx)
}

func (s *Session) sendHistory(ctx context.Context, sender *connection) {
	list, err := s.store.History(ctx, s.docID, historyFetchLimit)
	if err != nil {
		s.logger.Warn("read history failed", "err", err)
		return
	}
	s.send(sender, protocol.Message{Type: protocol.MsgHistoryList, List: list})
}

// restore overwrites the live content with an old version. It always records
// a snapshot and resets the throttle clock, then syncs every connection,
// the requester included.
func (s *Session) restore(ctx context.Context, sender *connection, content string) {
	if err := s.store.SetContent(ctx, s.docID, content); err != nil {
		s.logger.Warn("restore content failed", "err", err)
		return
	}
	now := s.nowFn().UnixMilli()
	snap := protocol.HistorySnapshot{Timestamp: now, Content: content, User: sender.userID, Note: "Restored"}
	if err := s.store.PushSnapshot(ctx, s.docID, snap); err != nil {
		s.logger.Warn("restore snapshot failed", "err", err)
		return
	}
	if err := s.store.SetLastVersionTime(ctx, s.docID, now); err != nil {
		s.logger.Warn("reset version clock failed", "err", err)
		return
	}
	s.broadcastOp(broadcastAll, protocol.Operation{Type: protocol.OpUpdate, Content: content, UserID: systemUser})
}

// applyUpdate is the hot path. The live broadcast goes out before any store
// write so sync latency never depends on storage.
func (s *Session) applyUpdate(ctx context.Context, sender *connection, op protocol.Operation) {
	s.broadcastOp(sender.id, op)

	if err := s.store.SetContent(ctx, s.docID, op.Content); err != nil {
		s.logger.Warn("persist content failed", "err", err)
		return
	}
	s.maybeSnapshot(ctx, sender.userID, op.Content)
}

// maybeSnapshot appends a history snapshot at most once per interval across
// all processes sharing the store. Losing the lock race means another writer
// is snapshotting; this update's snapshot is skipped, not retried.
func (s *Session) maybeSnapshot(ctx context.Context, userID, content string) {
	now := s.nowFn().UnixMilli()
	last, err := s.store.LastVersionTime(ctx, s.docID)
	if err != nil {
		s.logger.Warn("read version clock failed", "err", err)
		return
	}
	if now-last <= snapshotInterval.Milliseconds() {
		return
	}
	acquired, err := s.store.AcquireSnapshotLock(ctx, s.docID)
	if err != nil {
		s.logger.Warn("snapshot lock failed", "err", err)
		return
	}
	if !acquired {
		return
	}

	s.logger.Info("saving history snapshot", "user", userID)
	snap := protocol.HistorySnapshot{Timestamp: now, Content: content, User: userID}
	if err := s.store.PushSnapshot(ctx, s.docID, snap); err != nil {
		s.logger.Warn("push snapshot failed", "err", err)
		return
	}
	// This write, not the lock, is what makes the next check fail fast.
	if err := s.store.SetLastVersionTime(ctx, s.docID, now); err != nil {
		s.logger.Warn("advance version clock failed", "err", err)
	}
}

func (s *Session) broadcastChatHistory(ctx context.Context) {
	history, err := s.store.ChatHistory(ctx, s.docID)
	if err != nil {
		s.logger.Warn("read chat failed", "err", err)
		return
	}
	s.broadcastMsg(broadcastAll, protocol.Message{Type: protocol.MsgChatHistory, List: history})
}

// broadcastUserList sends the deduplicated presence list to every
// connection. One user may hold several connections; they appear once.
func (s *Session) broadcastUserList() {
	colors := make(map[string]string)
	for _, c := range s.conns {
		colors[c.userID] = c.color
	}
	users := make([]protocol.UserPresence, 0, len(colors))
	for userID, color := range colors {
		users = append(users, protocol.UserPresence{UserID: userID, Color: color})
	}
	sort.Slice(users, func(i, j int) bool { return users[i].UserID < users[j].UserID })
	s.broadcastMsg(broadcastAll, protocol.Message{Type: protocol.MsgUserList, List: users})
}

func (s *Session) broadcastMsg(exclude string, msg protocol.Message) {
	b, err := json.Marshal(msg)
	if err != nil {
		s.logger.Error("marshal message", "err", err)
		return
	}
	s.broadcastRaw(exclude, b)
}

func (s *Session) broadcastOp(exclude string, op protocol.Operation) {
	b, err := json.Marshal(op)
	if err != nil {
		s.logger.Error("marshal operation", "err", err)
		return
	}
	s.broadcastRaw(exclude, b)
}

// broadcastRaw delivers to every connection except exclude. A connection
// whose transport has gone away is skipped silently.
func (s *Session) broadcastRaw(exclude string, b []byte) {
	for id, c := range s.conns {
		if id == exclude {
			continue
		}
		if err := c.transport.Send(b); err != nil {
			s.logger.Debug("send skipped", "conn", id, "err", err)
		}
	}
}

func (s *Session) send(c *connection, msg protocol.Message) {
	b, err := json.Marshal(msg)
	if err != nil {
		s.logger.Error("marshal message", "err", err)
		return
	}
	if err := c.transport.Send(b); err != nil {
		s.logger.Debug("send skipped", "conn", c.id, "err", err)
	}
}

// userColor derives a stable display color from a user id: "#" followed by
// the first six characters, zero-padded, with anything outside [0-9a-fA-F]
// replaced by zero. Collisions are fine; this is presentation, not identity.
func userColor(userID string) string {
	out := make([]byte, 7)
	out[0] = '#'
	for i := 0; i < 6; i++ {
		ch := byte('0')
		if i < len(userID) {
			c := userID[i]
			if (c >= '0' && c <= '9') || (c >= 'a' && c <= 'f') || (c >= 'A' && c <= 'F') {
				ch = c
			}
		}
		out[i+1] = ch
	}
	return string(out)
}
