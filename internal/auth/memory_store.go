package auth

import (
	"context"
	"errors"
	"strings"
	"sync"
)

// MemoryStore 在内存中保存开发账号，用于 jwt 模式和测试。
type MemoryStore struct {
	mu    sync.RWMutex
	users map[string]*User
}

// NewMemoryStore 使用种子账号初始化。
func NewMemoryStore(seeds []Seed) (*MemoryStore, error) {
	store := &MemoryStore{users: make(map[string]*User)}
	for _, seed := range seeds {
		if strings.TrimSpace(seed.Username) == "" {
			continue
		}
		if err := store.ApplySeed(context.Background(), seed); err != nil {
			return nil, err
		}
	}
	return store, nil
}

// ApplySeed 新增或覆盖一个账号。
func (s *MemoryStore) ApplySeed(_ context.Context, seed Seed) error {
	username := strings.TrimSpace(seed.Username)
	if username == "" {
		return errors.New("seed username cannot be empty")
	}
	id := strings.TrimSpace(seed.ID)
	if id == "" {
		id = username
	}
	if id == ReservedSubject {
		return ErrReservedSubject
	}
	hashed, err := HashPassword(seed.Password)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.users[username] = &User{ID: id, Username: username, PasswordHash: hashed}
	return nil
}

// FindUserByUsername 按用户名查找账号。
func (s *MemoryStore) FindUserByUsername(_ context.Context, username string) (*User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if user, ok := s.users[strings.TrimSpace(username)]; ok {
		clone := *user
		return &clone, nil
	}
	return nil, errors.New("user not found")
}

// LoadSubject 按 ID 返回主体信息。
func (s *MemoryStore) LoadSubject(_ context.Context, userID string) (*Subject, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, user := range s.users {
		if user.ID == userID {
			return &Subject{ID: user.ID, Username: user.Username}, nil
		}
	}
	return nil, errors.New("subject not found")
}
