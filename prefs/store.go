// Package prefs хранит локальные предпочтения интерфейса (порядок каналов,
// избранное, недавние эмодзи, заглушённые пространства). Кеш только
// подсказывает начальное состояние UI — состоянием синхронизации всегда
// владеет сервер и оно перечитывается при каждом подключении.
package prefs

import "context"

// Store — хранилище предпочтений. Реализации: redis.Client, memory.Client
// (для запуска без Redis).
type Store interface {
	SetChannelOrder(ctx context.Context, keys []string) error
	ChannelOrder(ctx context.Context) ([]string, error)

	AddFavorite(ctx context.Context, key string) error
	RemoveFavorite(ctx context.Context, key string) error
	Favorites(ctx context.Context) ([]string, error)

	PushRecentEmoji(ctx context.Context, emoji string) error
	RecentEmojis(ctx context.Context) ([]string, error)

	SetSpaceMuted(ctx context.Context, spaceID string, muted bool) error
	MutedSpaces(ctx context.Context) ([]string, error)

	Close() error
}

// MaxRecentEmojis ограничивает список недавних эмодзи.
const MaxRecentEmojis = 24
