// Package provider は外部食品データベースプロバイダの共通インターフェースを定義する。
// 各プロバイダクライアントは外部APIのレスポンスを正規化済み候補（model.Candidate）
// に変換して返す。数値の型強制は失敗可能な変換として扱い、解釈できない値は
// 欠損として候補から除外する。
package provider

import (
	"context"
	"strconv"
	"strings"

	"github.com/hitoshi/nutriman/internal/model"
)

// Provider は外部食品データベースの検索クライアントのインターフェース。
type Provider interface {
	// Search は名前クエリで候補を検索する。結果は最大limit件。
	// 該当なしの場合は空スライスを返す（エラーではない）。
	Search(ctx context.Context, query string, limit int) ([]model.Candidate, error)

	// Barcode はバーコード（EAN）で候補を1件取得する。
	// 該当なしの場合は (nil, nil) を返す。
	Barcode(ctx context.Context, ean string) (*model.Candidate, error)
}

// ToNumber は外部APIの値を数値に変換する。外部プロバイダのJSONは同じ
// フィールドが数値だったり文字列だったりするため、両方を受け付ける。
// 変換できない場合は ok=false を返し、呼び出し側は欠損として扱う。
// 暗黙のゼロ値へのフォールバックは行わない。
func ToNumber(v interface{}) (float64, bool) {
	switch value := v.(type) {
	case float64:
		return value, true
	case float32:
		return float64(value), true
	case int:
		return float64(value), true
	case int64:
		return float64(value), true
	case string:
		trimmed := strings.TrimSpace(value)
		if trimmed == "" {
			return 0, false
		}
		parsed, err := strconv.ParseFloat(trimmed, 64)
		if err != nil {
			return 0, false
		}
		return parsed, true
	default:
		return 0, false
	}
}
