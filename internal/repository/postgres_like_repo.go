package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/hitoshi/brewfeed/internal/model"
)

// PostgresLikeRepo はPostgreSQLを使用したいいね状態リポジトリ。
// 直接書き込み経路とコンシューマ経路の両方から同じApplyが呼ばれる。
type PostgresLikeRepo struct {
	db *sql.DB
}

// NewPostgresLikeRepo はPostgresLikeRepoを生成する。
func NewPostgresLikeRepo(db *sql.DB) *PostgresLikeRepo {
	return &PostgresLikeRepo{db: db}
}

// Apply はイベントを1トランザクションで適用する。
// 既存レコードを確認してから挿入・削除を行う。挿入はON CONFLICT DO NOTHINGとし、
// 並行する書き込みが先に挿入していてもエラーにしない。
func (r *PostgresLikeRepo) Apply(ctx context.Context, e model.Event) (bool, error) {
	if !e.Kind.Valid() {
		return false, model.NewInvalidEventError(fmt.Sprintf("unknown type %q", e.Kind))
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	var exists bool
	err = tx.QueryRowContext(ctx,
		`SELECT EXISTS(SELECT 1 FROM likes WHERE user_id = $1 AND post_id = $2)`,
		e.ActorID, e.ContentID,
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("いいね状態の取得に失敗しました: %w", err)
	}

	var result sql.Result
	switch {
	case e.Kind == model.EventLike && !exists:
		result, err = tx.ExecContext(ctx,
			`INSERT INTO likes (user_id, post_id, created_at)
			 VALUES ($1, $2, $3)
			 ON CONFLICT (user_id, post_id) DO NOTHING`,
			e.ActorID, e.ContentID, e.Timestamp,
		)
		if err != nil {
			return false, fmt.Errorf("いいねの登録に失敗しました: %w", err)
		}
	case e.Kind == model.EventUnlike && exists:
		result, err = tx.ExecContext(ctx,
			`DELETE FROM likes WHERE user_id = $1 AND post_id = $2`,
			e.ActorID, e.ContentID,
		)
		if err != nil {
			return false, fmt.Errorf("いいねの削除に失敗しました: %w", err)
		}
	}

	changed := false
	if result != nil {
		n, err := result.RowsAffected()
		if err != nil {
			return false, fmt.Errorf("更新件数の取得に失敗しました: %w", err)
		}
		changed = n > 0
	}

	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("failed to commit transaction: %w", err)
	}
	return changed, nil
}

// ListContentIDs は指定ユーザーがいいねしたコンテンツIDを返す。
// いいねがない場合は空スライスを返す。
func (r *PostgresLikeRepo) ListContentIDs(ctx context.Context, userID string) ([]string, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT post_id FROM likes WHERE user_id = $1 ORDER BY created_at ASC, post_id ASC`,
		userID,
	)
	if err != nil {
		return nil, fmt.Errorf("いいね一覧の取得に失敗しました: %w", err)
	}
	defer rows.Close()

	ids := []string{}
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("いいね行の読み取りに失敗しました: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("いいね一覧の走査に失敗しました: %w", err)
	}
	return ids, nil
}

// compile-time interface check
var _ LikeRepository = (*PostgresLikeRepo)(nil)
