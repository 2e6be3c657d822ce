// Package feed はユーザーごとのフィードの組み立てとキャッシュを提供する。
package feed

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/hitoshi/brewfeed/internal/model"
)

// DefaultTTL はフィードキャッシュエントリの有効期間。
const DefaultTTL = time.Hour

func feedKey(owner string) string  { return "feed:" + owner }
func viewsKey(owner string) string { return "views:" + owner }

// Cache はRedisを使ったフィードキャッシュと閲覧済みセット。
// feed:{user} はTTL付きのJSON文字列、views:{user} は期限なしのセット。
type Cache struct {
	rdb    redis.Cmdable
	ttl    time.Duration
	logger *slog.Logger
	now    func() time.Time
}

// NewCache はCacheを生成する。ttlが0以下の場合はDefaultTTLを使う。
func NewCache(rdb redis.Cmdable, ttl time.Duration, logger *slog.Logger) *Cache {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Cache{rdb: rdb, ttl: ttl, logger: logger, now: time.Now}
}

// Get はキャッシュエントリを取得する。
// キーが存在しない、有効期限が設定されていない、または内容を解釈できない場合はミス（nil, nil）を返す。
// 解釈できないエントリは削除する。
func (c *Cache) Get(ctx context.Context, owner string) (*model.FeedCacheEntry, error) {
	key := feedKey(owner)

	pipe := c.rdb.Pipeline()
	getCmd := pipe.Get(ctx, key)
	ttlCmd := pipe.PTTL(ctx, key)
	if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("フィードキャッシュの取得に失敗しました: %w", err)
	}

	data, err := getCmd.Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("フィードキャッシュの取得に失敗しました: %w", err)
	}

	remaining := ttlCmd.Val()
	if remaining <= 0 {
		// 期限のないエントリは鮮度を判断できないため使わない
		c.discard(ctx, key, "entry has no expiry")
		return nil, nil
	}

	items, err := decodeItems(data)
	if err != nil {
		c.discard(ctx, key, err.Error())
		return nil, nil
	}

	now := c.now()
	age := c.ttl - remaining
	if age < 0 {
		age = 0
	}
	entry := &model.FeedCacheEntry{
		Owner:    owner,
		Items:    items,
		CachedAt: now.Add(-age),
		TTL:      c.ttl,
	}
	if entry.Expired(now) {
		return nil, nil
	}
	return entry, nil
}

// Store はアイテム一覧をTTL付きで保存し、保存したエントリを返す。
func (c *Cache) Store(ctx context.Context, owner string, items []model.FeedItem) (*model.FeedCacheEntry, error) {
	if items == nil {
		items = []model.FeedItem{}
	}
	data, err := json.Marshal(items)
	if err != nil {
		return nil, fmt.Errorf("フィードのシリアライズに失敗しました: %w", err)
	}

	now := c.now()
	if err := c.rdb.Set(ctx, feedKey(owner), data, c.ttl).Err(); err != nil {
		return nil, fmt.Errorf("フィードキャッシュの保存に失敗しました: %w", err)
	}

	return &model.FeedCacheEntry{
		Owner:    owner,
		Items:    items,
		CachedAt: now,
		TTL:      c.ttl,
	}, nil
}

// MarkViewed はコンテンツIDを閲覧済みセットに追加する。セットから削除することはない。
func (c *Cache) MarkViewed(ctx context.Context, owner string, contentIDs []string) error {
	if len(contentIDs) == 0 {
		return nil
	}
	members := make([]any, len(contentIDs))
	for i, id := range contentIDs {
		members[i] = id
	}
	if err := c.rdb.SAdd(ctx, viewsKey(owner), members...).Err(); err != nil {
		return fmt.Errorf("閲覧済みセットの更新に失敗しました: %w", err)
	}
	return nil
}

// Viewed は閲覧済みのコンテンツIDの集合を返す。
func (c *Cache) Viewed(ctx context.Context, owner string) (map[string]struct{}, error) {
	members, err := c.rdb.SMembers(ctx, viewsKey(owner)).Result()
	if err != nil {
		return nil, fmt.Errorf("閲覧済みセットの取得に失敗しました: %w", err)
	}
	viewed := make(map[string]struct{}, len(members))
	for _, m := range members {
		viewed[m] = struct{}{}
	}
	return viewed, nil
}

func (c *Cache) discard(ctx context.Context, key, reason string) {
	c.logger.WarnContext(ctx, "フィードキャッシュのエントリを破棄します",
		slog.String("key", key),
		slog.String("reason", reason),
	)
	if err := c.rdb.Del(ctx, key).Err(); err != nil {
		c.logger.WarnContext(ctx, "フィードキャッシュのエントリ削除に失敗しました",
			slog.String("key", key),
			slog.String("error", err.Error()),
		)
	}
}

// decodeItems はキャッシュ値を厳密に解釈する。未知のフィールドを含む値は拒否する。
func decodeItems(data []byte) ([]model.FeedItem, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	var items []model.FeedItem
	if err := dec.Decode(&items); err != nil {
		return nil, fmt.Errorf("invalid cached feed: %w", err)
	}
	if items == nil {
		return nil, errors.New("invalid cached feed: not a list")
	}
	return items, nil
}
