package security

import (
	"strings"
	"testing"
)

func TestSanitizeText(t *testing.T) {
	sanitizer := NewReviewSanitizer()

	tests := []struct {
		name  string
		input string
		want  string
	}{
		{name: "プレーンテキストはそのまま", input: "Crisp and hoppy", want: "Crisp and hoppy"},
		{name: "空文字列", input: "", want: ""},
		{name: "タグが除去される", input: "<p>Great <strong>IPA</strong></p>", want: "Great IPA"},
		{name: "scriptタグは中身ごと除去される", input: "Nice<script>alert('x')</script>", want: "Nice"},
		{name: "文字参照は元の文字に戻る", input: "Fish &amp; Chips pairing", want: "Fish & Chips pairing"},
		{name: "アポストロフィが保持される", input: "Brewer's best", want: "Brewer's best"},
		{name: "制御文字が除去される", input: "Dark\x07 stout\x1b", want: "Dark stout"},
		{name: "改行は保持される", input: "Line1\nLine2", want: "Line1\nLine2"},
		{name: "前後の空白は除去される", input: "  Malty  ", want: "Malty"},
		{name: "日本語テキスト", input: "<em>とても</em>美味しい", want: "とても美味しい"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := sanitizer.SanitizeText(tt.input); got != tt.want {
				t.Errorf("SanitizeText(%q) = %q, want %q", tt.input, got, tt.want)
			}
		})
	}
}

// TestSanitizeText_Idempotent は同一入力に対して常に同一出力を返すことを検証する。
func TestSanitizeText_Idempotent(t *testing.T) {
	sanitizer := NewReviewSanitizer()
	input := `<div onclick="steal()">Session <a href="javascript:x">IPA</a></div>`

	first := sanitizer.SanitizeText(input)
	second := sanitizer.SanitizeText(input)
	if first != second {
		t.Errorf("outputs differ: %q vs %q", first, second)
	}
	if strings.Contains(first, "onclick") || strings.Contains(first, "javascript") {
		t.Errorf("attributes leaked into text: %q", first)
	}
}
