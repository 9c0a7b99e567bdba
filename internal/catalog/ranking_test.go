package catalog

import (
	"testing"

	"github.com/hitoshi/nutriman/internal/model"
)

func strPtr(s string) *string     { return &s }
func floatPtr(f float64) *float64 { return &f }

// baseItem は完全なマクロ値を持つ最小限のカタログ項目を返す。
func baseItem(id, name string) *model.CatalogItem {
	return &model.CatalogItem{
		ID:             id,
		Source:         model.SourceOFF,
		Name:           name,
		KcalPer100g:    100,
		ProteinPer100g: 10,
		FatPer100g:     5,
		CarbsPer100g:   12,
		Quality:        model.QualityMed,
	}
}

func TestScore_QualityOrdering(t *testing.T) {
	high := baseItem("1", "a")
	high.Quality = model.QualityHigh
	med := baseItem("2", "a")
	med.Quality = model.QualityMed
	low := baseItem("3", "a")
	low.Quality = model.QualityLow

	if !(Score(high) > Score(med) && Score(med) > Score(low)) {
		t.Errorf("品質ティアの順にスコアが下がるべき: HIGH=%d MED=%d LOW=%d",
			Score(high), Score(med), Score(low))
	}
}

func TestScore_EstimatePenalty(t *testing.T) {
	exact := baseItem("1", "a")
	estimate := baseItem("2", "a")
	estimate.IsEstimate = true

	if Score(exact)-Score(estimate) != estimatePenalty {
		t.Errorf("推定値ペナルティ = %d, want %d", Score(exact)-Score(estimate), estimatePenalty)
	}
}

func TestScore_OptionalSignals(t *testing.T) {
	plain := baseItem("1", "a")

	withFiber := baseItem("2", "a")
	withFiber.FiberPer100g = floatPtr(3)
	if Score(withFiber)-Score(plain) != fiberBonus {
		t.Errorf("食物繊維ボーナスが適用されるべき")
	}

	withServing := baseItem("3", "a")
	withServing.ServingSizeG = floatPtr(30)
	if Score(withServing)-Score(plain) != servingBonus {
		t.Errorf("サービングサイズボーナスが適用されるべき")
	}

	withBrand := baseItem("4", "a")
	withBrand.Brand = strPtr("BrandCo")
	if Score(plain)-Score(withBrand) != noBrandBonus {
		t.Errorf("ブランドなしボーナスが適用されるべき")
	}
}

func TestScore_SourceTieBreak(t *testing.T) {
	internal := baseItem("1", "a")
	internal.Source = model.SourceInternal
	off := baseItem("2", "a")
	off.Source = model.SourceOFF
	usda := baseItem("3", "a")
	usda.Source = model.SourceUSDA

	if !(Score(internal) > Score(off) && Score(off) > Score(usda)) {
		t.Errorf("ソースの重みは INTERNAL > OFF > USDA であるべき")
	}
}

func TestScoreWithQuery_ExactBeatsPrefix(t *testing.T) {
	exact := baseItem("1", "Rice")
	prefix := baseItem("2", "Rice cooked")

	query := "Rice"
	if ScoreWithQuery(exact, query) <= ScoreWithQuery(prefix, query) {
		t.Errorf("完全一致は前方一致より高スコアであるべき: exact=%d prefix=%d",
			ScoreWithQuery(exact, query), ScoreWithQuery(prefix, query))
	}
}

func TestScoreWithQuery_RawBeatsPackagedForShortQuery(t *testing.T) {
	// 短いクエリでは素材そのものが加工食品・ブランド品より上に来る
	raw := baseItem("1", "Strawberry")
	raw.Source = model.SourceUSDA
	raw.Quality = model.QualityHigh

	packaged := baseItem("2", "Strawberry Cereal Bar")
	packaged.Brand = strPtr("SnackCo")

	query := "strawberry"
	if ScoreWithQuery(raw, query) <= ScoreWithQuery(packaged, query) {
		t.Errorf("素材が加工食品より高スコアであるべき: raw=%d packaged=%d",
			ScoreWithQuery(raw, query), ScoreWithQuery(packaged, query))
	}
}

func TestScoreWithQuery_TokenOverlap(t *testing.T) {
	overlap := baseItem("1", "Grilled chicken salad")
	unrelated := baseItem("2", "Beef stew")

	query := "chicken salad bowl"
	if ScoreWithQuery(overlap, query) <= ScoreWithQuery(unrelated, query) {
		t.Errorf("トークン重複のある項目が高スコアであるべき")
	}
}

func TestScoreWithQuery_EmptyQueryEqualsBase(t *testing.T) {
	item := baseItem("1", "Oatmeal")
	if ScoreWithQuery(item, "") != Score(item) {
		t.Errorf("空クエリでは基礎スコアと一致するべき")
	}
}

func TestMergeAndRank_BarcodeDedup(t *testing.T) {
	// 同一バーコードの2項目は高スコア側のみ残る
	a := baseItem("1", "Soy Milk")
	a.Barcode = strPtr("4901234567894")
	a.Quality = model.QualityHigh

	b := baseItem("2", "Soy Milk Drink")
	b.Barcode = strPtr("4901234567894")
	b.Quality = model.QualityLow

	results := MergeAndRank([]*model.CatalogItem{a, b}, 10, "")
	if len(results) != 1 {
		t.Fatalf("結果数 = %d, want 1", len(results))
	}
	if results[0].ID != "1" {
		t.Errorf("高スコア側が残るべき, got ID=%s", results[0].ID)
	}
}

func TestMergeAndRank_NormalizedNameDedup(t *testing.T) {
	// 正規化名が同じ項目（大文字小文字・記号・ストップワードの差）は1件に畳まれる
	a := baseItem("222", "Chicken Breast")
	a.Quality = model.QualityHigh
	b := baseItem("333", "chicken-breast!")
	b.Quality = model.QualityLow

	results := MergeAndRank([]*model.CatalogItem{a, b}, 10, "")
	if len(results) != 1 {
		t.Fatalf("結果数 = %d, want 1", len(results))
	}
	if results[0].ID != "222" {
		t.Errorf("高スコア側が残るべき, got ID=%s", results[0].ID)
	}
}

func TestMergeAndRank_LimitTruncation(t *testing.T) {
	items := []*model.CatalogItem{
		baseItem("1", "Apple"),
		baseItem("2", "Banana"),
		baseItem("3", "Cherry"),
	}

	results := MergeAndRank(items, 2, "")
	if len(results) != 2 {
		t.Errorf("結果数 = %d, want 2", len(results))
	}
}

func TestMergeAndRank_DeterministicOrdering(t *testing.T) {
	// 同スコアの項目は名前昇順・ID昇順で安定して並ぶ
	items := []*model.CatalogItem{
		baseItem("3", "Banana"),
		baseItem("2", "Apple"),
		baseItem("1", "Banana"),
	}

	results := MergeAndRank(items, 10, "")
	if len(results) != 2 {
		t.Fatalf("結果数 = %d, want 2（Bananaは正規化名で畳まれる）", len(results))
	}
	if results[0].Name != "Apple" {
		t.Errorf("results[0].Name = %q, want Apple", results[0].Name)
	}
	if results[1].Name != "Banana" || results[1].ID != "1" {
		t.Errorf("同名項目はID昇順で選ばれるべき, got ID=%s", results[1].ID)
	}
}

func TestMergeAndRank_EmptyInput(t *testing.T) {
	results := MergeAndRank(nil, 10, "query")
	if len(results) != 0 {
		t.Errorf("空入力には空の結果を返すべき, got %d", len(results))
	}
}

func TestMergeAndRank_QueryAwareOrdering(t *testing.T) {
	// クエリありの場合、完全一致が上位に来る
	exact := baseItem("1", "Rice")
	other := baseItem("2", "Rice cooked")

	results := MergeAndRank([]*model.CatalogItem{other, exact}, 10, "Rice")
	if len(results) != 2 {
		t.Fatalf("結果数 = %d, want 2", len(results))
	}
	if results[0].ID != "1" {
		t.Errorf("完全一致が先頭に来るべき, got ID=%s", results[0].ID)
	}
}
