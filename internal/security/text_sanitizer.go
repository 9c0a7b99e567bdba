// Package security はアプリケーションのセキュリティ機能を提供する。
//
// TextSanitizerService は外部プロバイダから取得した食品名・ブランド名などの
// テキストからマークアップを除去する。プロバイダのペイロードはコミュニティ
// 編集されたデータを含むため、保存前にHTMLタグを一切許可しないポリシーで
// プレーンテキスト化する。
package security

import (
	"html"
	"strings"

	"github.com/microcosm-cc/bluemonday"
)

// TextSanitizerService はプレーンテキストサニタイズ機能のインターフェースを定義する。
// プロバイダ候補の受理前に名前・ブランドへ適用される。
type TextSanitizerService interface {
	// Sanitize は入力からすべてのHTMLタグを除去し、実体参照を復元した
	// プレーンテキストを返す。前後の空白は取り除かれる。
	// 空文字列の入力には空文字列を返す。
	// 同一入力に対して常に同一出力を返す（冪等）。
	Sanitize(raw string) string
}

// textSanitizer はTextSanitizerServiceの実装。
// bluemondayのStrictPolicyを保持し、スレッドセーフにサニタイズ処理を行う。
type textSanitizer struct {
	policy *bluemonday.Policy
}

// NewTextSanitizer はTextSanitizerServiceの新しいインスタンスを生成する。
// StrictPolicyはすべてのタグと属性を除去する。
func NewTextSanitizer() *textSanitizer {
	return &textSanitizer{
		policy: bluemonday.StrictPolicy(),
	}
}

// Sanitize は入力からマークアップを除去したプレーンテキストを返す。
// StrictPolicyの出力はHTMLエスケープ済みのため、実体参照を戻してから返す。
func (s *textSanitizer) Sanitize(raw string) string {
	if raw == "" {
		return ""
	}
	cleaned := s.policy.Sanitize(raw)
	return strings.TrimSpace(html.UnescapeString(cleaned))
}

// compile-time interface check
var _ TextSanitizerService = (*textSanitizer)(nil)
