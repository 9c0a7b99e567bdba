// Package model はドメインモデルを定義する。
package model

import "fmt"

// APIError は統一エラーフォーマットを表す。
// UIに表示する原因カテゴリと対処方法を含む。
type APIError struct {
	Code     string // エラーコード
	Message  string // エラーメッセージ
	Category string // カテゴリ: validation, catalog, system
	Action   string // ユーザー向け対処方法
}

// Error はerrorインターフェースを実装する。
func (e *APIError) Error() string {
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// 定義済みエラーコード
const (
	ErrCodeInvalidQuery        = "INVALID_QUERY"
	ErrCodeInvalidBarcode      = "INVALID_BARCODE"
	ErrCodeFoodItemNotFound    = "FOOD_ITEM_NOT_FOUND"
	ErrCodeProviderUnavailable = "PROVIDER_UNAVAILABLE"
)

// NewInvalidQueryError は検索クエリが無効な場合のエラーを生成する。
func NewInvalidQueryError(reason string) *APIError {
	return &APIError{
		Code:     ErrCodeInvalidQuery,
		Message:  fmt.Sprintf("無効な検索クエリです: %s", reason),
		Category: "validation",
		Action:   "1文字以上の検索語を指定してください。",
	}
}

// NewInvalidBarcodeError はバーコードが無効な場合のエラーを生成する。
func NewInvalidBarcodeError(ean string) *APIError {
	return &APIError{
		Code:     ErrCodeInvalidBarcode,
		Message:  fmt.Sprintf("無効なバーコードです: %s", ean),
		Category: "validation",
		Action:   "数字8〜14桁のEAN/UPCコードを指定してください。",
	}
}

// NewFoodItemNotFoundError は食品が見つからない場合のエラーを生成する。
func NewFoodItemNotFoundError(ean string) *APIError {
	return &APIError{
		Code:     ErrCodeFoodItemNotFound,
		Message:  fmt.Sprintf("指定されたバーコードに一致する食品が見つかりません: %s", ean),
		Category: "catalog",
		Action:   "バーコードを確認するか、名前で検索してください。",
	}
}

// NewProviderUnavailableError は外部プロバイダが利用できない場合のエラーを生成する。
// reasonにはガードが返したコード（RATE_LIMITED/CIRCUIT_OPEN/FAILED）を渡す。
func NewProviderUnavailableError(provider, reason string) *APIError {
	return &APIError{
		Code:     ErrCodeProviderUnavailable,
		Message:  fmt.Sprintf("外部プロバイダ %s が利用できません (%s)。", provider, reason),
		Category: "system",
		Action:   "しばらく待ってから再度お試しください。",
	}
}
