// Package store adapts the shared Redis instance to the operations the
// collaboration server needs. All keys live here so the schema stays in one
// place; it is shared with other services and must not drift.
//
// Missing values are not errors: a document that has never been written has
// no content, an empty ACL is an empty map, and an absent last-version time
// is zero.
package store

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"collabdocs/server/internal/protocol"
)

const (
	// historyLimit bounds the per-document version history.
	historyLimit = 51
	// lockTTL bounds how long a snapshot lock can be held. It is never
	// explicitly released; expiry is the release.
	lockTTL = 5 * time.Second

	linkAccessField = "link_access"
	// LinkAccessNone means the document is not shared by link.
	LinkAccessNone = "none"
)

func keyContent(id string) string { return "doc:" + id }

func keyOwner(docID string) string { return "doc_owner:" + docID }

func keyACL(docID string) string { return "doc_acl:" + docID }

func keySettings(docID string) string { return "doc_settings:" + docID }

func keyTabs(docID string) string { return "doc_tabs:" + docID }

func keyChat(id string) string { return "chat:" + id }

func keyHistory(id string) string { return "history:" + id }

func keyLastVersion(id string) string { return "doc_last_version_time:" + id }

func keyHistoryLock(id string) string { return "history_lock:" + id }

func keyUserDocs(userID string) string { return "user_docs:" + userID }

// Redis is the store adapter backed by a shared Redis instance.
type Redis struct {
	rdb *redis.Client
}

func New(rdb *redis.Client) *Redis {
	return &Redis{rdb: rdb}
}

// Content returns the latest persisted content for id. The second return
// value reports whether any content has ever been saved.
func (s *Redis) Content(ctx context.Context, id string) (string, bool, error) {
	v, err := s.rdb.Get(ctx, keyContent(id)).Result()
	if err == redis.Nil {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("get content: %w", err)
	}
	return v, true, nil
}

func (s *Redis) SetContent(ctx context.Context, id, content string) error {
	return s.rdb.Set(ctx, keyContent(id), content, 0).Err()
}

// Owner returns the owning user id for a document, or "" if the document has
// no registered owner.
func (s *Redis) Owner(ctx context.Context, docID string) (string, error) {
	v, err := s.rdb.Get(ctx, keyOwner(docID)).Result()
	if err == redis.Nil {
		return "", nil
	}
	return v, err
}

func (s *Redis) SetOwner(ctx context.Context, docID, userID string) error {
	return s.rdb.Set(ctx, keyOwner(docID), userID, 0).Err()
}

// ACL returns the explicit email-to-role grants for a document.
func (s *Redis) ACL(ctx context.Context, docID string) (map[string]string, error) {
	return s.rdb.HGetAll(ctx, keyACL(docID)).Result()
}

func (s *Redis) SetACLRole(ctx context.Context, docID, email, role string) error {
	return s.rdb.HSet(ctx, keyACL(docID), email, role).Err()
}

func (s *Redis) RemoveACLRole(ctx context.Context, docID, email string) error {
	return s.rdb.HDel(ctx, keyACL(docID), email).Err()
}

// LinkAccess returns the document's link-sharing setting, defaulting to
// "none" when unset.
func (s *Redis) LinkAccess(ctx context.Context, docID string) (string, error) {
	v, err := s.rdb.HGet(ctx, keySettings(docID), linkAccessField).Result()
	if err == redis.Nil || v == "" {
		return LinkAccessNone, nil
	}
	return v, err
}

func (s *Redis) SetLinkAccess(ctx context.Context, docID, linkAccess string) error {
	return s.rdb.HSet(ctx, keySettings(docID), linkAccessField, linkAccess).Err()
}

func (s *Redis) Tabs(ctx context.Context, docID string) ([]string, error) {
	return s.rdb.LRange(ctx, keyTabs(docID), 0, -1).Result()
}

func (s *Redis) AddTab(ctx context.Context, docID, name string) error {
	return s.rdb.RPush(ctx, keyTabs(docID), name).Err()
}

func (s *Redis) UserDocs(ctx context.Context, userID string) ([]string, error) {
	return s.rdb.SMembers(ctx, keyUserDocs(userID)).Result()
}

func (s *Redis) AddUserDoc(ctx context.Context, userID, docID string) error {
	return s.rdb.SAdd(ctx, keyUserDocs(userID), docID).Err()
}

// ChatHistory returns every chat entry for id, oldest first.
func (s *Redis) ChatHistory(ctx context.Context, id string) ([]protocol.ChatEntry, error) {
	raw, err := s.rdb.LRange(ctx, keyChat(id), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("read chat: %w", err)
	}
	out := make([]protocol.ChatEntry, 0, len(raw))
	for _, item := range raw {
		var entry protocol.ChatEntry
		if err := json.Unmarshal([]byte(item), &entry); err != nil {
			return nil, fmt.Errorf("decode chat entry: %w", err)
		}
		out = append(out, entry)
	}
	return out, nil
}

func (s *Redis) AppendChat(ctx context.Context, id string, entry protocol.ChatEntry) error {
	b, err := json.Marshal(entry)
	if err != nil {
		return err
	}
	return s.rdb.RPush(ctx, keyChat(id), b).Err()
}

// ReplaceChatHistory rewrites the full chat list. Redis has no remove-by-id
// on lists, so deletion is delete-then-reinsert.
func (s *Redis) ReplaceChatHistory(ctx context.Context, id string, entries []protocol.ChatEntry) error {
	vals := make([]interface{}, 0, len(entries))
	for _, entry := range entries {
		b, err := json.Marshal(entry)
		if err != nil {
			return err
		}
		vals = append(vals, b)
	}
	if err := s.rdb.Del(ctx, keyChat(id)).Err(); err != nil {
		return err
	}
	if len(vals) == 0 {
		return nil
	}
	return s.rdb.RPush(ctx, keyChat(id), vals...).Err()
}

// History returns up to limit snapshots, newest first.
func (s *Redis) History(ctx context.Context, id string, limit int) ([]protocol.HistorySnapshot, error) {
	raw, err := s.rdb.LRange(ctx, keyHistory(id), 0, int64(limit)-1).Result()
	if err != nil {
		return nil, fmt.Errorf("read history: %w", err)
	}
	out := make([]protocol.HistorySnapshot, 0, len(raw))
	for _, item := range raw {
		var snap protocol.HistorySnapshot
		if err := json.Unmarshal([]byte(item), &snap); err != nil {
			return nil, fmt.Errorf("decode snapshot: %w", err)
		}
		out = append(out, snap)
	}
	return out, nil
}

// PushSnapshot prepends a snapshot and trims the list so the history never
// holds more than the 51 most recent versions.
func (s *Redis) PushSnapshot(ctx context.Context, id string, snap protocol.HistorySnapshot) error {
	b, err := json.Marshal(snap)
	if err != nil {
		return err
	}
	if err := s.rdb.LPush(ctx, keyHistory(id), b).Err(); err != nil {
		return err
	}
	return s.rdb.LTrim(ctx, keyHistory(id), 0, historyLimit-1).Err()
}

// LastVersionTime returns the epoch-millis of the last accepted snapshot,
// or 0 if none was ever taken.
func (s *Redis) LastVersionTime(ctx context.Context, id string) (int64, error) {
	v, err := s.rdb.Get(ctx, keyLastVersion(id)).Result()
	if err == redis.Nil {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	ts, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("parse last version time: %w", err)
	}
	return ts, nil
}

func (s *Redis) SetLastVersionTime(ctx context.Context, id string, ts int64) error {
	return s.rdb.Set(ctx, keyLastVersion(id), strconv.FormatInt(ts, 10), 0).Err()
}

// AcquireSnapshotLock attempts the cross-process snapshot lock for id. It
// returns false when another writer holds it; that is an expected outcome,
// not an error. The lock expires on its own after 5 seconds.
func (s *Redis) AcquireSnapshotLock(ctx context.Context, id string) (bool, error) {
	return s.rdb.SetNX(ctx, keyHistoryLock(id), "locked", lockTTL).Result()
}
