// Package fake provides minimal in-memory implementations of
// internal/collab's interfaces for tests, grounded on the teacher's
// Stub*Repository pattern
// (internal/games/infrastructure/repository/stub_repositories.go): a
// map guarded by a mutex, no persistence, errors only for genuinely
// missing data.
package fake

import (
	"context"
	"fmt"
	"sync"

	"github.com/starrealm/hoststar/internal/collab"
)

// KVStore is an in-memory collab.KVStore.
type KVStore struct {
	mu   sync.Mutex
	data map[string]string
}

// NewKVStore creates an empty KVStore.
func NewKVStore() *KVStore {
	return &KVStore{data: make(map[string]string)}
}

func (k *KVStore) Get(ctx context.Context, key string) (string, bool, error) {
	k.mu.Lock()
	defer k.mu.Unlock()
	v, ok := k.data[key]
	return v, ok, nil
}

func (k *KVStore) Set(ctx context.Context, key, value string) error {
	k.mu.Lock()
	defer k.mu.Unlock()
	k.data[key] = value
	return nil
}

func (k *KVStore) CompareAndSwap(ctx context.Context, key, oldValue, newValue string) (bool, error) {
	k.mu.Lock()
	defer k.mu.Unlock()
	cur, exists := k.data[key]
	if !exists {
		if oldValue != "" {
			return false, nil
		}
	} else if cur != oldValue {
		return false, nil
	}
	k.data[key] = newValue
	return true, nil
}

func (k *KVStore) Delete(ctx context.Context, key string) error {
	k.mu.Lock()
	defer k.mu.Unlock()
	delete(k.data, key)
	return nil
}

// FileService is an in-memory collab.FileService (backs both
// HostFileService and UserFileService).
type FileService struct {
	mu       sync.Mutex
	files    map[string][]byte
	byHash   map[string]string
	hashFunc func([]byte) string
}

// NewFileService creates an empty FileService. hashFunc computes the
// dedupe key for a file's content; pass nil to disable Dedupe lookups.
func NewFileService(hashFunc func([]byte) string) *FileService {
	return &FileService{
		files:    make(map[string][]byte),
		byHash:   make(map[string]string),
		hashFunc: hashFunc,
	}
}

func (f *FileService) Stat(ctx context.Context, path string) (int64, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	data, ok := f.files[path]
	if !ok {
		return 0, false, nil
	}
	return int64(len(data)), true, nil
}

func (f *FileService) ReadFile(ctx context.Context, path string) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	data, ok := f.files[path]
	if !ok {
		return nil, fmt.Errorf("fake: no such file %q", path)
	}
	out := make([]byte, len(data))
	copy(out, data)
	return out, nil
}

func (f *FileService) WriteFile(ctx context.Context, path string, data []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := make([]byte, len(data))
	copy(cp, data)
	f.files[path] = cp
	if f.hashFunc != nil {
		f.byHash[f.hashFunc(cp)] = path
	}
	return nil
}

func (f *FileService) Dedupe(ctx context.Context, hash string) (string, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	path, ok := f.byHash[hash]
	return path, ok, nil
}

// MailQueue is an in-memory collab.MailQueue that records every
// enqueued message for assertions.
type MailQueue struct {
	mu       sync.Mutex
	Messages []Message
}

// Message is one recorded MailQueue.Enqueue call.
type Message struct {
	To, Subject, Body string
}

// NewMailQueue creates an empty MailQueue.
func NewMailQueue() *MailQueue {
	return &MailQueue{}
}

func (m *MailQueue) Enqueue(ctx context.Context, to, subject, body string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Messages = append(m.Messages, Message{To: to, Subject: subject, Body: body})
	return nil
}

// ForumService is an in-memory collab.ForumService.
type ForumService struct {
	mu       sync.Mutex
	active   map[string]bool
	archived map[string]bool
}

// NewForumService creates an empty ForumService.
func NewForumService() *ForumService {
	return &ForumService{active: make(map[string]bool), archived: make(map[string]bool)}
}

func (f *ForumService) CreateGameForum(ctx context.Context, gameID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.active[gameID] = true
	return nil
}

func (f *ForumService) ArchiveGameForum(ctx context.Context, gameID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.active[gameID] {
		return fmt.Errorf("fake: no active forum for game %s", gameID)
	}
	delete(f.active, gameID)
	f.archived[gameID] = true
	return nil
}

// SessionRouter is an in-memory collab.SessionRouter that records
// every close request.
type SessionRouter struct {
	mu     sync.Mutex
	Closed []ClosedSessions
}

// ClosedSessions is one recorded SessionRouter.CloseUserSessions call.
type ClosedSessions struct {
	GameID, UserID string
}

// NewSessionRouter creates an empty SessionRouter.
func NewSessionRouter() *SessionRouter {
	return &SessionRouter{}
}

func (r *SessionRouter) CloseUserSessions(ctx context.Context, gameID, userID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Closed = append(r.Closed, ClosedSessions{GameID: gameID, UserID: userID})
	return nil
}

var (
	_ collab.KVStore         = (*KVStore)(nil)
	_ collab.HostFileService = (*FileService)(nil)
	_ collab.UserFileService = (*FileService)(nil)
	_ collab.MailQueue       = (*MailQueue)(nil)
	_ collab.ForumService    = (*ForumService)(nil)
	_ collab.SessionRouter   = (*SessionRouter)(nil)
)
