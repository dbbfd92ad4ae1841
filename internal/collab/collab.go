// Package collab defines the interfaces the core speaks to its
// external collaborators through (spec.md §1 Non-goals: persistence
// schema, file storage layout, mail transport, forum software, and web
// session infrastructure are all out of scope — only the interface
// each one is consumed through is specified here).
package collab

import "context"

// KVStore is the minimal hash/set/list/string contract internal/store
// could be rebuilt on top of, for a deployment that wants a raw
// key/value collaborator instead of a SQL one.
type KVStore interface {
	Get(ctx context.Context, key string) (string, bool, error)
	Set(ctx context.Context, key, value string) error
	// CompareAndSwap atomically replaces key's value with newValue only
	// if its current value equals oldValue (oldValue "" and ok=false
	// means "key must not currently exist").
	CompareAndSwap(ctx context.Context, key, oldValue, newValue string) (ok bool, err error)
	Delete(ctx context.Context, key string) error
}

// FileService is the hierarchical read/write/stat surface shared by
// the host-file and user-file collaborators (spec.md §4.10 "must refer
// to an existing file in the host-file service", §4.5 managed
// directories).
type FileService interface {
	Stat(ctx context.Context, path string) (size int64, ok bool, err error)
	ReadFile(ctx context.Context, path string) ([]byte, error)
	WriteFile(ctx context.Context, path string, data []byte) error
	// Dedupe returns an existing path already holding the content
	// identified by hash, if one is known, so callers can hard-link or
	// skip a redundant write instead of storing a duplicate blob.
	Dedupe(ctx context.Context, hash string) (existingPath string, ok bool, err error)
}

// HostFileService holds engine binaries, tool config files, and
// per-game generated content.
type HostFileService interface {
	FileService
}

// UserFileService holds per-user uploaded/managed files (spec.md §4.5
// "managed directory").
type UserFileService interface {
	FileService
}

// MailQueue is the fire-and-forget outbound mail collaborator used for
// turn-missed and admin notifications.
type MailQueue interface {
	Enqueue(ctx context.Context, to, subject, body string) error
}

// ForumService provisions and retires the discussion space a game
// creates alongside itself.
type ForumService interface {
	CreateGameForum(ctx context.Context, gameID string) error
	ArchiveGameForum(ctx context.Context, gameID string) error
}

// SessionRouter closes a user's live web sessions for a game when the
// game transitions in a way that must interrupt them (e.g. deletion,
// ownership change).
type SessionRouter interface {
	CloseUserSessions(ctx context.Context, gameID, userID string) error
}
