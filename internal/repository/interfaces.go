// Package repository はデータ永続化のインターフェースを定義する。
package repository

import (
	"context"

	"github.com/hitoshi/brewfeed/internal/model"
)

// LikeRepository はいいね状態ストアの永続化インターフェース。
// レコードの存在が「いいね済み」を表し、(user_id, post_id) ごとに高々1件。
type LikeRepository interface {
	// Apply はイベントを冪等に適用する。
	// likeは未登録なら挿入、unlikeは登録済みなら削除し、それ以外はno-op。
	// 状態が変化した場合にchanged=trueを返す。失敗時はロールバックされる。
	Apply(ctx context.Context, e model.Event) (changed bool, err error)

	// ListContentIDs は指定ユーザーがいいねしたコンテンツIDをいいねした順に返す。
	ListContentIDs(ctx context.Context, userID string) ([]string, error)
}
