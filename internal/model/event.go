// Package model はドメインモデルを定義する。
package model

import "time"

// EventKind はいいね操作イベントの種別を表す。
type EventKind string

const (
	// EventLike はいいね追加イベント。
	EventLike EventKind = "like"
	// EventUnlike はいいね取り消しイベント。
	EventUnlike EventKind = "unlike"
)

// Valid は既知の種別かどうかを返す。
func (k EventKind) Valid() bool {
	return k == EventLike || k == EventUnlike
}

// Event はサービス境界を越えて伝搬されるいいね/いいね取り消し操作を表す。
// キューに投入された後は変更しない。
type Event struct {
	Kind      EventKind
	ActorID   string // 操作したユーザーのID
	ContentID string // 対象レビューのID
	Timestamp time.Time
}

// NewEvent は現在時刻（UTC）でEventを生成する。
func NewEvent(kind EventKind, actorID, contentID string) Event {
	return Event{
		Kind:      kind,
		ActorID:   actorID,
		ContentID: contentID,
		Timestamp: time.Now().UTC(),
	}
}
