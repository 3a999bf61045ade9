// Package protocol defines the wire types exchanged between clients and the
// sync server, and the shapes persisted to the store. The JSON field names
// here are part of the store schema and the client protocol; they must not
// change.
package protocol

import "encoding/json"

// Operation kinds accepted from a connection.
const (
	OpUpdate       = "update"
	OpCursor       = "cursor"
	OpTyping       = "typing"
	OpChat         = "chat"
	OpDeleteChat   = "delete_chat"
	OpFetchHistory = "fetch_history"
	OpRestore      = "restore"
)

// Server-to-client message types. update, cursor and typing are echoed back
// under their operation kind.
const (
	MsgAccessInfo  = "access_info"
	MsgSystem      = "system"
	MsgUserList    = "user_list"
	MsgSync        = "sync"
	MsgHistoryList = "history_list"
	MsgChatHistory = "chat_history"
	MsgError       = "error"
)

// Operation is the tagged union read from a connection. Only the fields
// relevant to a given Type are set; the rest marshal away. Range is kept
// opaque because the server relays cursor ranges without interpreting them.
type Operation struct {
	Type      string          `json:"type"`
	Content   string          `json:"content,omitempty"`
	UserID    string          `json:"userId,omitempty"`
	Range     json.RawMessage `json:"range,omitempty"`
	Color     string          `json:"color,omitempty"`
	Timestamp int64           `json:"timestamp,omitempty"`
	Message   string          `json:"message,omitempty"`
	Quote     string          `json:"quote,omitempty"`
	ChatID    int64           `json:"chatId,omitempty"`
	IsTyping  *bool           `json:"isTyping,omitempty"`
}

// Message is the generic server-to-client envelope for non-echo messages.
type Message struct {
	Type    string `json:"type"`
	Role    string `json:"role,omitempty"`
	Message string `json:"message,omitempty"`
	Color   string `json:"color,omitempty"`
	Content string `json:"content,omitempty"`
	UserID  string `json:"userId,omitempty"`
	List    any    `json:"list,omitempty"`
}

// ChatEntry is one persisted chat message. Quote is a JSON null when the
// message quotes nothing.
type ChatEntry struct {
	ID        int64   `json:"id"`
	User      string  `json:"user"`
	Message   string  `json:"message"`
	Quote     *string `json:"quote"`
	Color     string  `json:"color"`
	Timestamp int64   `json:"timestamp"`
}

// HistorySnapshot is one persisted document version. Note is only set for
// snapshots created by a restore.
type HistorySnapshot struct {
	Timestamp int64  `json:"timestamp"`
	Content   string `json:"content"`
	User      string `json:"user"`
	Note      string `json:"note,omitempty"`
}

// UserPresence is one entry of a user_list broadcast.
type UserPresence struct {
	UserID string `json:"userId"`
	Color  string `json:"color"`
}
