// Package security はアプリケーションのセキュリティ機能を提供する。
//
// ReviewSanitizer はレビュー保存サービスから取得したユーザー投稿テキストから
// HTMLを取り除き、フィード項目としてプレーンテキストで返す。
package security

import (
	"html"
	"strings"
	"unicode"

	"github.com/microcosm-cc/bluemonday"
)

// TextSanitizer はユーザー投稿テキストのサニタイズ機能のインターフェース。
type TextSanitizer interface {
	// SanitizeText はすべてのHTMLタグを除去したプレーンテキストを返す。
	// 同一入力に対して常に同一出力を返す（冪等）。
	SanitizeText(raw string) string
}

// ReviewSanitizer はTextSanitizerの実装。
// bluemondayのStrictPolicyを保持し、スレッドセーフにサニタイズ処理を行う。
type ReviewSanitizer struct {
	policy *bluemonday.Policy
}

// NewReviewSanitizer はReviewSanitizerを生成する。
func NewReviewSanitizer() *ReviewSanitizer {
	return &ReviewSanitizer{policy: bluemonday.StrictPolicy()}
}

// SanitizeText はタグを除去し、文字参照を元の文字に戻し、制御文字を取り除く。
// 出力はJSON文字列として返すため、HTMLエスケープは呼び出し側の表示層に任せる。
func (s *ReviewSanitizer) SanitizeText(raw string) string {
	if raw == "" {
		return ""
	}
	stripped := html.UnescapeString(s.policy.Sanitize(raw))
	cleaned := strings.Map(func(r rune) rune {
		if r == '\n' || r == '\t' {
			return r
		}
		if unicode.IsControl(r) {
			return -1
		}
		return r
	}, stripped)
	return strings.TrimSpace(cleaned)
}

// compile-time interface check
var _ TextSanitizer = (*ReviewSanitizer)(nil)
