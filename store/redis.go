package store

import (
	"context"
	"encoding/json"
	"maps"
	"path"
	"slices"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/effective-security/mcpagent/chatmodel"
	"github.com/effective-security/mcpagent/pkg/mcperr"
	"github.com/effective-security/xlog"
	"github.com/redis/go-redis/v9"
)

// The redis store keeps the turns of a chat in a list, trimmed to the last turns,
// and the chat info as a JSON value.
// The keys namespace is organized as follows:
// - `/<prefix>/chatstore/turns/<chatID>` for the turns
// - `/<prefix>/chatstore/info/<chatID>` for the chat info
// - `/<prefix>/chatstore/chats` for the set of chat IDs

type redisStore struct {
	client redis.UniversalClient
	prefix string
	opts   options
}

// NewRedisStore returns a ChatManager backed by Redis
func NewRedisStore(client redis.UniversalClient, prefix string, opts ...Option) ChatManager {
	return &redisStore{
		client: client,
		prefix: prefix,
		opts:   newOptions(opts),
	}
}

func (m *redisStore) turnsKey(chatID string) string {
	return path.Join(m.prefix, "chatstore", "turns", chatID)
}

func (m *redisStore) infoKey(chatID string) string {
	return path.Join(m.prefix, "chatstore", "info", chatID)
}

func (m *redisStore) chatsKey() string {
	return path.Join(m.prefix, "chatstore", "chats")
}

func (m *redisStore) Turns(ctx context.Context) (chatmodel.Conversation, error) {
	id, err := chatIDFromContext(ctx)
	if err != nil {
		return nil, err
	}
	return m.turns(ctx, id)
}

func (m *redisStore) turns(ctx context.Context, id string) (chatmodel.Conversation, error) {
	data, err := m.client.LRange(ctx, m.turnsKey(id), 0, -1).Result()
	if err != nil {
		return nil, errors.Wrap(err, "failed to get turns from Redis")
	}

	conv := make(chatmodel.Conversation, 0, len(data))
	for _, item := range data {
		turn := new(chatmodel.Turn)
		if err := json.Unmarshal([]byte(item), turn); err != nil {
			logger.ContextKV(ctx, xlog.ERROR,
				"chat_id", id,
				"status", "failed_to_unmarshal_turn",
				"err", err.Error(),
			)
			continue
		}
		conv = append(conv, turn)
	}
	return trim(conv, 0), nil
}

func (m *redisStore) Add(ctx context.Context, turns ...*chatmodel.Turn) error {
	id, err := chatIDFromContext(ctx)
	if err != nil {
		return err
	}
	if len(turns) == 0 {
		return nil
	}

	values := make([]any, len(turns))
	for i, turn := range turns {
		data, err := json.Marshal(turn)
		if err != nil {
			return errors.Wrap(err, "failed to marshal turn")
		}
		values[i] = data
	}

	key := m.turnsKey(id)
	pipe := m.client.Pipeline()
	pipe.RPush(ctx, key, values...)
	pipe.LTrim(ctx, key, int64(-m.opts.maxTurns), -1)
	if _, err = pipe.Exec(ctx); err != nil {
		return errors.Wrap(err, "failed to store turns in Redis")
	}

	// update the time
	_, err = m.UpdateChat(ctx, "", nil)
	return err
}

func (m *redisStore) Reset(ctx context.Context) error {
	id, err := chatIDFromContext(ctx)
	if err != nil {
		return err
	}

	pipe := m.client.Pipeline()
	pipe.Del(ctx, m.turnsKey(id))
	pipe.Del(ctx, m.infoKey(id))
	pipe.SRem(ctx, m.chatsKey(), id)
	if _, err = pipe.Exec(ctx); err != nil {
		return errors.Wrap(err, "failed to reset chat in Redis")
	}
	return nil
}

func (m *redisStore) UpdateChat(ctx context.Context, title string, metadata map[string]any) (*ChatInfo, error) {
	id, err := chatIDFromContext(ctx)
	if err != nil {
		return nil, err
	}

	chat, err := m.chatInfo(ctx, id)
	isNew := errors.Is(err, mcperr.ErrNotFound)
	if err != nil && !isNew {
		return nil, err
	}
	if isNew {
		now := TimeNowFn()
		chat = &ChatInfo{
			ChatID:    id,
			Title:     DefaultTitle,
			CreatedAt: now,
		}
	}

	if title != "" {
		chat.Title = title
	}
	if metadata != nil {
		if chat.Metadata == nil {
			chat.Metadata = make(map[string]any)
		}
		maps.Copy(chat.Metadata, metadata)
	}
	chat.UpdatedAt = TimeNowFn()

	data, err := json.Marshal(chat)
	if err != nil {
		return nil, errors.Wrap(err, "failed to marshal chat info")
	}

	pipe := m.client.Pipeline()
	pipe.Set(ctx, m.infoKey(id), data, 0)
	if isNew {
		pipe.SAdd(ctx, m.chatsKey(), id)
	}
	if _, err = pipe.Exec(ctx); err != nil {
		return nil, errors.Wrap(err, "failed to store chat info in Redis")
	}
	return chat, nil
}

func (m *redisStore) GetChatInfo(ctx context.Context, id string) (*ChatInfo, error) {
	current, err := chatIDFromContext(ctx)
	if err != nil {
		return nil, err
	}
	if id == "" {
		id = current
	}

	chat, err := m.chatInfo(ctx, id)
	if err != nil {
		return nil, err
	}
	chat.Turns, err = m.turns(ctx, id)
	if err != nil {
		return nil, err
	}
	return chat, nil
}

// chatInfo returns the chat info without turns
func (m *redisStore) chatInfo(ctx context.Context, id string) (*ChatInfo, error) {
	data, err := m.client.Get(ctx, m.infoKey(id)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, mcperr.Mark(errors.Newf("chat %s not found", id), mcperr.ErrNotFound)
		}
		return nil, errors.Wrap(err, "failed to get chat info from Redis")
	}

	chat := new(ChatInfo)
	if err = json.Unmarshal([]byte(data), chat); err != nil {
		return nil, errors.Wrap(err, "failed to unmarshal chat info")
	}
	return chat, nil
}

func (m *redisStore) ListChats(ctx context.Context) ([]string, error) {
	if _, err := chatIDFromContext(ctx); err != nil {
		return nil, err
	}

	ids, err := m.client.SMembers(ctx, m.chatsKey()).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, errors.Wrap(err, "failed to list chats from Redis")
	}
	slices.Sort(ids)
	return ids, nil
}

func (m *redisStore) Cleanup(ctx context.Context, olderThan time.Duration) (uint32, error) {
	ids, err := m.client.SMembers(ctx, m.chatsKey()).Result()
	if err != nil {
		return 0, errors.Wrap(err, "failed to list chats from Redis")
	}

	var deleted uint32
	cutoff := TimeNowFn().Add(-olderThan)
	for _, id := range ids {
		chat, err := m.chatInfo(ctx, id)
		if err != nil {
			if errors.Is(err, mcperr.ErrNotFound) {
				continue
			}
			return deleted, err
		}
		if !chat.UpdatedAt.Before(cutoff) {
			continue
		}

		pipe := m.client.Pipeline()
		pipe.Del(ctx, m.infoKey(id))
		pipe.Del(ctx, m.turnsKey(id))
		pipe.SRem(ctx, m.chatsKey(), id)
		if _, err = pipe.Exec(ctx); err != nil {
			return deleted, errors.Wrap(err, "failed to delete chat from Redis")
		}
		deleted++
	}
	return deleted, nil
}
