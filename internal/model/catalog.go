// Package model はドメインモデルを定義する。
package model

import "time"

// FoodSource は栄養データの出所を表す。
type FoodSource string

const (
	// SourceInternal は内部でキュレーションされたデータを示す。
	SourceInternal FoodSource = "INTERNAL"
	// SourceOFF はOpen Food Factsから取得したデータを示す。
	SourceOFF FoodSource = "OFF"
	// SourceUSDA はUSDA FoodData Centralから取得したデータを示す。
	SourceUSDA FoodSource = "USDA"
)

// FoodQuality はデータ品質ティアを表す。
type FoodQuality string

const (
	// QualityHigh は信頼度の高いデータ。
	QualityHigh FoodQuality = "HIGH"
	// QualityMed は標準的な信頼度のデータ。
	QualityMed FoodQuality = "MED"
	// QualityLow は換算を伴うなど信頼度の低いデータ。
	QualityLow FoodQuality = "LOW"
)

// Candidate はプロバイダ正規化層が返す未永続の栄養レコード。
// 正規化呼び出しごとに1回生成されるイミュータブルな値として扱い、
// 生成後は変更しない。kcal/たんぱく質/脂質/炭水化物は必須で、
// いずれかを欠く候補は正規化層で受理されない。
type Candidate struct {
	Source         FoodSource
	ExternalID     string // INTERNAL以外では必須。プロバイダに対する自然キー
	Barcode        *string
	Name           string
	Brand          *string
	ServingSizeG   *float64
	KcalPer100g    float64
	ProteinPer100g float64
	FatPer100g     float64
	CarbsPer100g   float64
	FiberPer100g   *float64
	Quality        FoodQuality
	IsEstimate     bool
	Synonyms       []string // 内部シードのみ使用
	InternalSlug   *string  // 内部シードのみ使用
	LastFetchedAt  *time.Time
}

// CatalogItem はCandidateの永続化形。IDとタイムスタンプを持つ。
// INTERNAL以外のソースでは (source, external_id) が一意であり、
// プロバイダ結果の冪等なUPSERTのキーとなる。
// バーコードは行をまたいで一意ではない（クエリ時に重複排除する）。
type CatalogItem struct {
	ID             string
	Source         FoodSource
	ExternalID     *string
	Barcode        *string
	Name           string
	Brand          *string
	ServingSizeG   *float64
	KcalPer100g    float64
	ProteinPer100g float64
	FatPer100g     float64
	CarbsPer100g   float64
	FiberPer100g   *float64
	Quality        FoodQuality
	IsEstimate     bool
	Synonyms       []string
	InternalSlug   *string
	LastFetchedAt  *time.Time
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// IsFresh はキャッシュ行が指定TTL内で新鮮かどうかを判定する。
// INTERNAL行は常に新鮮。それ以外はlast_fetched_atがTTL内の場合のみ新鮮。
// 鮮度切れの行もプロバイダ停止時のフォールバックとしては返却されうる。
func (i *CatalogItem) IsFresh(now time.Time, ttl time.Duration) bool {
	if i.Source == SourceInternal {
		return true
	}
	if i.LastFetchedAt == nil {
		return false
	}
	return now.Sub(*i.LastFetchedAt) < ttl
}
