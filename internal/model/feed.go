// Package model はドメインモデルを定義する。
package model

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"
)

// Review はレビュー保存サービスから取得したレビューを表す。
type Review struct {
	ID           string    `json:"id"`
	Headline     string    `json:"headline"`
	Body         string    `json:"review"`
	Rating       int       `json:"rating"`
	ProductID    string    `json:"product_id"`
	UserEmail    string    `json:"user_email"`
	UserNickname string    `json:"user_nickname"`
	CreatedAt    Timestamp `json:"created_at"`
	UpdatedAt    Timestamp `json:"updated_at"`
}

// FeedItem はフィードキャッシュに格納される1件分のレビューを表す。
// Likedは組み立て時点のいいね状態であり、キャッシュ読み出し時には再検証しない。
type FeedItem struct {
	ID           string    `json:"id"`
	Headline     string    `json:"headline"`
	Body         string    `json:"review"`
	Rating       int       `json:"rating"`
	ProductID    string    `json:"product_id"`
	UserEmail    string    `json:"user_email"`
	UserNickname string    `json:"user_nickname"`
	CreatedAt    Timestamp `json:"created_at"`
	UpdatedAt    Timestamp `json:"updated_at"`
	Liked        bool      `json:"liked"`
}

// FeedCacheEntry はユーザーごとのキャッシュ済みフィードを表す。
// Itemsは新しい順に並ぶ。
type FeedCacheEntry struct {
	Owner    string
	Items    []FeedItem
	CachedAt time.Time
	TTL      time.Duration
}

// ExpiresAt はエントリの有効期限を返す。
func (e *FeedCacheEntry) ExpiresAt() time.Time {
	return e.CachedAt.Add(e.TTL)
}

// Expired は指定時刻においてエントリが期限切れかどうかを返す。
func (e *FeedCacheEntry) Expired(now time.Time) bool {
	return !now.Before(e.ExpiresAt())
}

// Identity は検証サービスが返す呼び出し元ユーザーの識別情報を表す。
type Identity struct {
	UserID string
}

// timestampLayouts は受け付けるタイムスタンプ形式。
// タイムゾーンなしの値はUTCとして解釈する。
var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999",
}

// ParseTimestamp はRFC3339またはタイムゾーンなしISO-8601形式の文字列を解析する。
func ParseTimestamp(s string) (time.Time, error) {
	for _, layout := range timestampLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("unsupported timestamp format: %q", s)
}

// Timestamp はタイムゾーンなしの値も受け付けるJSON用の時刻型。
// 出力は常にRFC3339Nano（UTC）。
type Timestamp struct {
	time.Time
}

// MarshalJSON はRFC3339Nano形式で出力する。
func (t Timestamp) MarshalJSON() ([]byte, error) {
	return json.Marshal(t.UTC().Format(time.RFC3339Nano))
}

// UnmarshalJSON はParseTimestampが受け付ける形式を解析する。nullはゼロ値として扱う。
func (t *Timestamp) UnmarshalJSON(data []byte) error {
	if bytes.Equal(data, []byte("null")) {
		t.Time = time.Time{}
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return fmt.Errorf("timestamp must be a string: %w", err)
	}
	parsed, err := ParseTimestamp(s)
	if err != nil {
		return err
	}
	t.Time = parsed
	return nil
}
