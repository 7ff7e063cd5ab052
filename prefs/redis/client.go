package redis

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/orbit-chat/orbit-client/prefs"
)

// Ключи: prefs:{user}:order (JSON-список), prefs:{user}:fav (set),
// prefs:{user}:recent_emoji (list), prefs:{user}:muted (set).
type Client struct {
	cli    *redis.Client
	userID string
}

func New(ctx context.Context, url, userID string) (*Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("prefs redis parse url: %w", err)
	}
	cli := redis.NewClient(opts)
	if err := cli.Ping(ctx).Err(); err != nil {
		if closeErr := cli.Close(); closeErr != nil {
			return nil, fmt.Errorf("prefs redis ping: %w (close: %v)", err, closeErr)
		}
		return nil, fmt.Errorf("prefs redis ping: %w", err)
	}
	return &Client{cli: cli, userID: userID}, nil
}

func (c *Client) Close() error {
	return c.cli.Close()
}

func (c *Client) key(suffix string) string {
	return "prefs:" + c.userID + ":" + suffix
}

func (c *Client) SetChannelOrder(ctx context.Context, keys []string) error {
	data, err := json.Marshal(keys)
	if err != nil {
		return err
	}
	return c.cli.Set(ctx, c.key("order"), data, 0).Err()
}

func (c *Client) ChannelOrder(ctx context.Context) ([]string, error) {
	val, err := c.cli.Get(ctx, c.key("order")).Result()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var keys []string
	if err := json.Unmarshal([]byte(val), &keys); err != nil {
		return nil, err
	}
	return keys, nil
}

func (c *Client) AddFavorite(ctx context.Context, key string) error {
	return c.cli.SAdd(ctx, c.key("fav"), key).Err()
}

func (c *Client) RemoveFavorite(ctx context.Context, key string) error {
	return c.cli.SRem(ctx, c.key("fav"), key).Err()
}

func (c *Client) Favorites(ctx context.Context) ([]string, error) {
	return c.cli.SMembers(ctx, c.key("fav")).Result()
}

// PushRecentEmoji переносит эмодзи в начало списка без дубликатов и обрезает
// список до prefs.MaxRecentEmojis.
func (c *Client) PushRecentEmoji(ctx context.Context, emoji string) error {
	key := c.key("recent_emoji")
	pipe := c.cli.TxPipeline()
	pipe.LRem(ctx, key, 0, emoji)
	pipe.LPush(ctx, key, emoji)
	pipe.LTrim(ctx, key, 0, int64(prefs.MaxRecentEmojis-1))
	_, err := pipe.Exec(ctx)
	return err
}

func (c *Client) RecentEmojis(ctx context.Context) ([]string, error) {
	return c.cli.LRange(ctx, c.key("recent_emoji"), 0, int64(prefs.MaxRecentEmojis-1)).Result()
}

func (c *Client) SetSpaceMuted(ctx context.Context, spaceID string, muted bool) error {
	if muted {
		return c.cli.SAdd(ctx, c.key("muted"), spaceID).Err()
	}
	return c.cli.SRem(ctx, c.key("muted"), spaceID).Err()
}

func (c *Client) MutedSpaces(ctx context.Context) ([]string, error) {
	return c.cli.SMembers(ctx, c.key("muted")).Result()
}
