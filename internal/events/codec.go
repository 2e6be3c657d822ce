package events

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/hitoshi/brewfeed/internal/model"
)

// wireEvent はチャネル上のJSON表現。
type wireEvent struct {
	Type      string          `json:"type"`
	UserID    json.RawMessage `json:"user_id"`
	PostID    string          `json:"post_id"`
	Timestamp string          `json:"timestamp"`
}

// Encode はイベントをワイヤ形式にシリアライズする。
func Encode(e model.Event) ([]byte, error) {
	if err := validate(e); err != nil {
		return nil, err
	}
	userID, err := json.Marshal(e.ActorID)
	if err != nil {
		return nil, fmt.Errorf("failed to encode user_id: %w", err)
	}
	return json.Marshal(wireEvent{
		Type:      string(e.Kind),
		UserID:    userID,
		PostID:    e.ContentID,
		Timestamp: e.Timestamp.UTC().Format(time.RFC3339Nano),
	})
}

// Decode はワイヤ形式のメッセージをイベントに変換する。
// 未知のフィールド、未知の種別、空のID、解析できないタイムスタンプは拒否する。
func Decode(data []byte) (model.Event, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()

	var w wireEvent
	if err := dec.Decode(&w); err != nil {
		return model.Event{}, model.NewInvalidEventError(err.Error())
	}
	if _, err := dec.Token(); !errors.Is(err, io.EOF) {
		return model.Event{}, model.NewInvalidEventError("trailing data after event object")
	}

	userID, err := decodeUserID(w.UserID)
	if err != nil {
		return model.Event{}, err
	}

	ts, err := model.ParseTimestamp(w.Timestamp)
	if err != nil {
		return model.Event{}, model.NewInvalidEventError(err.Error())
	}

	e := model.Event{
		Kind:      model.EventKind(w.Type),
		ActorID:   userID,
		ContentID: w.PostID,
		Timestamp: ts,
	}
	if err := validate(e); err != nil {
		return model.Event{}, err
	}
	return e, nil
}

func validate(e model.Event) error {
	if !e.Kind.Valid() {
		return model.NewInvalidEventError(fmt.Sprintf("unknown type %q", e.Kind))
	}
	if e.ActorID == "" {
		return model.NewInvalidEventError("user_id is empty")
	}
	if e.ContentID == "" {
		return model.NewInvalidEventError("post_id is empty")
	}
	return nil
}

// decodeUserID は文字列または整数のuser_idを受け付ける。
func decodeUserID(raw json.RawMessage) (string, error) {
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return "", model.NewInvalidEventError("user_id is missing")
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s, nil
	}
	var n int64
	if err := json.Unmarshal(raw, &n); err == nil {
		return strconv.FormatInt(n, 10), nil
	}
	return "", model.NewInvalidEventError("user_id must be a string or integer")
}
