package memory

import (
	"context"
	"sync"

	"github.com/orbit-chat/orbit-client/prefs"
)

// Client — предпочтения в памяти процесса (без персистентности между запусками).
type Client struct {
	mu        sync.RWMutex
	order     []string
	favorites map[string]struct{}
	recents   []string
	muted     map[string]struct{}
}

func New() *Client {
	return &Client{
		favorites: make(map[string]struct{}),
		muted:     make(map[string]struct{}),
	}
}

func (c *Client) Close() error { return nil }

func (c *Client) SetChannelOrder(ctx context.Context, keys []string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.order = append([]string(nil), keys...)
	return nil
}

func (c *Client) ChannelOrder(ctx context.Context) ([]string, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return append([]string(nil), c.order...), nil
}

func (c *Client) AddFavorite(ctx context.Context, key string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.favorites[key] = struct{}{}
	return nil
}

func (c *Client) RemoveFavorite(ctx context.Context, key string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.favorites, key)
	return nil
}

func (c *Client) Favorites(ctx context.Context) ([]string, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]string, 0, len(c.favorites))
	for k := range c.favorites {
		out = append(out, k)
	}
	return out, nil
}

func (c *Client) PushRecentEmoji(ctx context.Context, emoji string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	// Переносим в начало, без дубликатов.
	kept := make([]string, 0, len(c.recents)+1)
	kept = append(kept, emoji)
	for _, e := range c.recents {
		if e != emoji {
			kept = append(kept, e)
		}
	}
	if len(kept) > prefs.MaxRecentEmojis {
		kept = kept[:prefs.MaxRecentEmojis]
	}
	c.recents = kept
	return nil
}

func (c *Client) RecentEmojis(ctx context.Context) ([]string, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return append([]string(nil), c.recents...), nil
}

func (c *Client) SetSpaceMuted(ctx context.Context, spaceID string, muted bool) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if muted {
		c.muted[spaceID] = struct{}{}
	} else {
		delete(c.muted, spaceID)
	}
	return nil
}

func (c *Client) MutedSpaces(ctx context.Context) ([]string, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]string, 0, len(c.muted))
	for k := range c.muted {
		out = append(out, k)
	}
	return out, nil
}
