package store

import (
	"context"
	"maps"
	"slices"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/effective-security/mcpagent/chatmodel"
	"github.com/effective-security/mcpagent/pkg/mcperr"
)

type memoryChat struct {
	info  ChatInfo
	turns chatmodel.Conversation
}

type inMemory struct {
	mu    sync.RWMutex
	opts  options
	chats map[string]*memoryChat
}

// NewMemoryStore returns a ChatManager keeping the chats in memory
func NewMemoryStore(opts ...Option) ChatManager {
	return &inMemory{
		opts:  newOptions(opts),
		chats: make(map[string]*memoryChat),
	}
}

func (m *inMemory) Turns(ctx context.Context) (chatmodel.Conversation, error) {
	id, err := chatIDFromContext(ctx)
	if err != nil {
		return nil, err
	}

	m.mu.RLock()
	defer m.mu.RUnlock()
	chat := m.chats[id]
	if chat == nil {
		return nil, nil
	}
	return trim(chat.turns, 0).Clone(), nil
}

func (m *inMemory) Add(ctx context.Context, turns ...*chatmodel.Turn) error {
	id, err := chatIDFromContext(ctx)
	if err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	chat := m.getOrCreate(id)
	chat.turns = trim(append(chat.turns, turns...), m.opts.maxTurns).Clone()
	chat.info.UpdatedAt = TimeNowFn()
	return nil
}

func (m *inMemory) Reset(ctx context.Context) error {
	id, err := chatIDFromContext(ctx)
	if err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.chats, id)
	return nil
}

func (m *inMemory) UpdateChat(ctx context.Context, title string, metadata map[string]any) (*ChatInfo, error) {
	id, err := chatIDFromContext(ctx)
	if err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	chat := m.getOrCreate(id)
	if title != "" {
		chat.info.Title = title
	}
	if metadata != nil {
		if chat.info.Metadata == nil {
			chat.info.Metadata = make(map[string]any)
		}
		maps.Copy(chat.info.Metadata, metadata)
	}
	chat.info.UpdatedAt = TimeNowFn()

	info := chat.info
	info.Metadata = maps.Clone(chat.info.Metadata)
	return &info, nil
}

func (m *inMemory) GetChatInfo(ctx context.Context, id string) (*ChatInfo, error) {
	current, err := chatIDFromContext(ctx)
	if err != nil {
		return nil, err
	}
	if id == "" {
		id = current
	}

	m.mu.RLock()
	defer m.mu.RUnlock()
	chat := m.chats[id]
	if chat == nil {
		return nil, mcperr.Mark(errors.Newf("chat %s not found", id), mcperr.ErrNotFound)
	}
	info := chat.info
	info.Metadata = maps.Clone(chat.info.Metadata)
	info.Turns = trim(chat.turns, 0).Clone()
	return &info, nil
}

func (m *inMemory) ListChats(ctx context.Context) ([]string, error) {
	if _, err := chatIDFromContext(ctx); err != nil {
		return nil, err
	}

	m.mu.RLock()
	defer m.mu.RUnlock()
	return slices.Sorted(maps.Keys(m.chats)), nil
}

func (m *inMemory) Cleanup(_ context.Context, olderThan time.Duration) (uint32, error) {
	cutoff := TimeNowFn().Add(-olderThan)

	m.mu.Lock()
	defer m.mu.Unlock()
	var deleted uint32
	for id, chat := range m.chats {
		if chat.info.UpdatedAt.Before(cutoff) {
			delete(m.chats, id)
			deleted++
		}
	}
	return deleted, nil
}

// getOrCreate must be called under the write lock
func (m *inMemory) getOrCreate(id string) *memoryChat {
	chat := m.chats[id]
	if chat == nil {
		now := TimeNowFn()
		chat = &memoryChat{
			info: ChatInfo{
				ChatID:    id,
				Title:     DefaultTitle,
				CreatedAt: now,
				UpdatedAt: now,
			},
		}
		m.chats[id] = chat
	}
	return chat
}
