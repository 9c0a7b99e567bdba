package catalog

import (
	"math"
	"sort"
	"strings"

	"github.com/hitoshi/nutriman/internal/model"
)

// qualityScore は品質ティアごとの基礎スコア。
var qualityScore = map[model.FoodQuality]int{
	model.QualityHigh: 30,
	model.QualityMed:  20,
	model.QualityLow:  10,
}

// sourceScore はソース間のタイブレーク用の重み。内部データを最優先する。
var sourceScore = map[model.FoodSource]int{
	model.SourceInternal: 3,
	model.SourceOFF:      2,
	model.SourceUSDA:     1,
}

// packagedWords は加工食品を示唆する語彙。短いクエリではこれらを含む項目を
// 強めに減点し、素材そのものを上位に出す。
var packagedWords = map[string]struct{}{
	"bar": {}, "shake": {}, "sauce": {}, "drink": {}, "powder": {},
	"candy": {}, "snack": {}, "cereal": {}, "spread": {}, "syrup": {},
}

const (
	estimatePenalty     = 8
	completenessBonus   = 10
	fiberBonus          = 2
	servingBonus        = 1
	noBrandBonus        = 3
	exactMatchBonus     = 25
	prefixMatchBonus    = 15
	tokenMatchBonus     = 3
	packagedPenaltyShort = 12
	packagedPenaltyLong  = 4
	brandPenaltyShort    = 8
	brandPenaltyLong     = 2
	// shortQueryTokens 以下のトークン数のクエリを「短いクエリ」とみなす
	shortQueryTokens = 2
)

// Score はカタログ項目の基礎スコアを算出する純粋関数。
// 品質ティア > 推定値ペナルティ > マクロ完全性 > 食物繊維 > サービングサイズ >
// ソースタイブレーク、の重み順で独立したシグナルを加算する。
// ブランドなしの項目（汎用食材の代理指標）にはボーナスを与える。
func Score(item *model.CatalogItem) int {
	s := qualityScore[item.Quality]

	if item.IsEstimate {
		s -= estimatePenalty
	}
	if hasCompleteMacros(item) {
		s += completenessBonus
	}
	if item.FiberPer100g != nil {
		s += fiberBonus
	}
	if item.ServingSizeG != nil {
		s += servingBonus
	}
	if item.Brand == nil {
		s += noBrandBonus
	}
	s += sourceScore[item.Source]

	return s
}

// ScoreWithQuery は基礎スコアにクエリ一致度の項を加えたスコアを算出する。
// 正規化名の完全一致が最も高く、前方一致、トークン重複の順に弱くなる。
// 加工食品語彙とブランドの存在は、短い（2トークン以下の）クエリで
// 強めに減点する。"chicken" のような単純な検索では素材そのものが
// ブランド品より上に来るべきという判断による。
func ScoreWithQuery(item *model.CatalogItem, query string) int {
	base := Score(item)

	queryKey := model.NormalizeNameKey(query)
	if queryKey == "" {
		return base
	}

	nameKey := model.NormalizeNameKey(item.Name)
	queryTokens := model.NameTokens(queryKey)
	nameTokens := model.NameTokens(nameKey)
	shortQuery := len(queryTokens) <= shortQueryTokens

	match := 0
	switch {
	case nameKey == queryKey:
		match = exactMatchBonus
	case strings.HasPrefix(nameKey, queryKey):
		match = prefixMatchBonus
	default:
		nameSet := make(map[string]struct{}, len(nameTokens))
		for _, token := range nameTokens {
			nameSet[token] = struct{}{}
		}
		for _, token := range queryTokens {
			if _, ok := nameSet[token]; ok {
				match += tokenMatchBonus
			}
		}
	}

	penalty := 0
	for _, token := range nameTokens {
		if _, ok := packagedWords[token]; ok {
			if shortQuery {
				penalty += packagedPenaltyShort
			} else {
				penalty += packagedPenaltyLong
			}
			break
		}
	}
	if item.Brand != nil {
		if shortQuery {
			penalty += brandPenaltyShort
		} else {
			penalty += brandPenaltyLong
		}
	}

	return base + match - penalty
}

// hasCompleteMacros は4つの必須マクロ値が全て有限値かどうかを判定する。
func hasCompleteMacros(item *model.CatalogItem) bool {
	for _, v := range []float64{item.KcalPer100g, item.ProteinPer100g, item.FatPer100g, item.CarbsPer100g} {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return false
		}
	}
	return true
}

// scoreFunc は項目のスコアを返す関数。クエリの有無で切り替える。
type scoreFunc func(item *model.CatalogItem) int

// compareForPick は重複グループ内で残す1件を選ぶための比較関数。
// スコア → ブランドの有無 → 名前 → ID の順で決定的に比較する。
// 負を返した場合はaが優先される。
func compareForPick(a, b *model.CatalogItem, score scoreFunc) int {
	if diff := score(b) - score(a); diff != 0 {
		return diff
	}
	if diff := compareOptionalString(a.Brand, b.Brand); diff != 0 {
		return diff
	}
	if diff := strings.Compare(a.Name, b.Name); diff != 0 {
		return diff
	}
	return strings.Compare(a.ID, b.ID)
}

// compareRank は最終的な並び順の比較関数。
// スコア降順 → 名前昇順 → ID昇順。
func compareRank(a, b *model.CatalogItem, score scoreFunc) int {
	if diff := score(b) - score(a); diff != 0 {
		return diff
	}
	if diff := strings.Compare(a.Name, b.Name); diff != 0 {
		return diff
	}
	return strings.Compare(a.ID, b.ID)
}

func compareOptionalString(a, b *string) int {
	switch {
	case a != nil && b == nil:
		return -1
	case a == nil && b != nil:
		return 1
	case a != nil && b != nil:
		return strings.Compare(*a, *b)
	default:
		return 0
	}
}

// pickBest は同一グループ内でより上位の項目を返す。
func pickBest(current, next *model.CatalogItem, score scoreFunc) *model.CatalogItem {
	if current == nil {
		return next
	}
	if compareForPick(next, current, score) < 0 {
		return next
	}
	return current
}

// MergeAndRank はキャッシュとプロバイダから集めた項目群を重複排除し、
// 決定的なベストファースト順で返す。
//
// 2段階の重複排除を行う:
//   - 第1パス: 非NULLバーコードでグループ化し、各グループで最上位の1件のみ残す。
//     バーコードなしの項目はそのまま通過する。
//   - 第2パス: 正規化名でグループ化し（正規化結果が空なら項目ID自身をキーとし、
//     全項目が必ず1つのグループに属することを保証する）、再び最上位のみ残す。
//
// 両パスとも同一のタイブレーク順（スコア → ブランド有無 → 名前 → ID）を使い、
// 同一入力に対する結果の安定性を保証する。
// 最後にスコア降順・名前昇順・ID昇順でソートし、limit件に切り詰める。
// queryが非空の場合はクエリ一致度込みのスコアで評価する。
func MergeAndRank(items []*model.CatalogItem, limit int, query string) []*model.CatalogItem {
	score := Score
	if query != "" {
		score = func(item *model.CatalogItem) int {
			return ScoreWithQuery(item, query)
		}
	}

	// 第1パス: バーコードによる重複排除
	byBarcode := make(map[string]*model.CatalogItem)
	var withoutBarcode []*model.CatalogItem

	for _, item := range items {
		if item.Barcode != nil && *item.Barcode != "" {
			key := *item.Barcode
			byBarcode[key] = pickBest(byBarcode[key], item, score)
		} else {
			withoutBarcode = append(withoutBarcode, item)
		}
	}

	barcodeMerged := make([]*model.CatalogItem, 0, len(byBarcode)+len(withoutBarcode))
	for _, item := range byBarcode {
		barcodeMerged = append(barcodeMerged, item)
	}
	barcodeMerged = append(barcodeMerged, withoutBarcode...)

	// 第2パス: 正規化名による重複排除
	byName := make(map[string]*model.CatalogItem)
	for _, item := range barcodeMerged {
		key := model.NormalizeNameKey(item.Name)
		if key == "" {
			key = item.ID
		}
		byName[key] = pickBest(byName[key], item, score)
	}

	results := make([]*model.CatalogItem, 0, len(byName))
	for _, item := range byName {
		results = append(results, item)
	}

	sort.Slice(results, func(i, j int) bool {
		return compareRank(results[i], results[j], score) < 0
	})

	if limit >= 0 && len(results) > limit {
		results = results[:limit]
	}
	return results
}
