// Package seed は内部キュレーション食品のシードデータを提供する。
// 基本食材×調理法バリエーションを展開し、INTERNALソースとして冪等に投入する。
package seed

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"regexp"
	"strings"

	"github.com/hitoshi/nutriman/internal/model"
	"github.com/hitoshi/nutriman/internal/repository"
)

// macroTemplate は基本食材1つの100gあたり栄養テンプレート。
type macroTemplate struct {
	name    string
	kcal    float64
	protein float64
	fat     float64
	carbs   float64
	fiber   float64
	quality model.FoodQuality
}

var proteinBases = []macroTemplate{
	{name: "Chicken breast", kcal: 165, protein: 31, fat: 3.6, carbs: 0, fiber: 0, quality: model.QualityMed},
	{name: "Turkey breast", kcal: 135, protein: 29, fat: 1.5, carbs: 0, fiber: 0, quality: model.QualityMed},
	{name: "Salmon", kcal: 208, protein: 20, fat: 13, carbs: 0, fiber: 0, quality: model.QualityMed},
	{name: "Tuna", kcal: 132, protein: 29, fat: 1, carbs: 0, fiber: 0, quality: model.QualityMed},
	{name: "Cod", kcal: 82, protein: 18, fat: 0.7, carbs: 0, fiber: 0, quality: model.QualityMed},
	{name: "Lean beef", kcal: 250, protein: 26, fat: 15, carbs: 0, fiber: 0, quality: model.QualityLow},
	{name: "Pork loin", kcal: 242, protein: 27, fat: 14, carbs: 0, fiber: 0, quality: model.QualityLow},
	{name: "Egg", kcal: 143, protein: 13, fat: 10, carbs: 1.1, fiber: 0, quality: model.QualityMed},
	{name: "Egg white", kcal: 52, protein: 11, fat: 0.2, carbs: 0.7, fiber: 0, quality: model.QualityMed},
	{name: "Greek yogurt", kcal: 97, protein: 10, fat: 5, carbs: 4, fiber: 0, quality: model.QualityMed},
	{name: "Cottage cheese", kcal: 98, protein: 11, fat: 4.3, carbs: 3.4, fiber: 0, quality: model.QualityMed},
	{name: "Tofu", kcal: 144, protein: 15, fat: 8, carbs: 3, fiber: 1, quality: model.QualityMed},
	{name: "Tempeh", kcal: 193, protein: 20, fat: 11, carbs: 9, fiber: 7, quality: model.QualityMed},
	{name: "Lentils", kcal: 116, protein: 9, fat: 0.4, carbs: 20, fiber: 8, quality: model.QualityMed},
	{name: "Shrimp", kcal: 99, protein: 24, fat: 0.3, carbs: 0.2, fiber: 0, quality: model.QualityMed},
}

var carbBases = []macroTemplate{
	{name: "White rice", kcal: 130, protein: 2.7, fat: 0.3, carbs: 28, fiber: 0.4, quality: model.QualityMed},
	{name: "Brown rice", kcal: 123, protein: 2.7, fat: 1, carbs: 26, fiber: 1.8, quality: model.QualityMed},
	{name: "Pasta", kcal: 131, protein: 5, fat: 1.1, carbs: 25, fiber: 1.5, quality: model.QualityMed},
	{name: "Oats", kcal: 389, protein: 17, fat: 7, carbs: 66, fiber: 10, quality: model.QualityMed},
	{name: "Quinoa", kcal: 120, protein: 4.4, fat: 1.9, carbs: 21, fiber: 2.8, quality: model.QualityMed},
	{name: "Potato", kcal: 93, protein: 2.5, fat: 0.1, carbs: 21, fiber: 2.2, quality: model.QualityMed},
	{name: "Sweet potato", kcal: 90, protein: 2, fat: 0.2, carbs: 21, fiber: 3.3, quality: model.QualityMed},
	{name: "Whole wheat bread", kcal: 247, protein: 13, fat: 4.2, carbs: 41, fiber: 6, quality: model.QualityMed},
	{name: "Corn tortilla", kcal: 218, protein: 5.7, fat: 2.9, carbs: 44, fiber: 6.6, quality: model.QualityMed},
	{name: "Barley", kcal: 123, protein: 2.3, fat: 0.4, carbs: 28, fiber: 3.8, quality: model.QualityMed},
}

var vegBases = []macroTemplate{
	{name: "Broccoli", kcal: 35, protein: 2.4, fat: 0.4, carbs: 7.2, fiber: 3.3, quality: model.QualityHigh},
	{name: "Spinach", kcal: 23, protein: 2.9, fat: 0.4, carbs: 3.6, fiber: 2.2, quality: model.QualityHigh},
	{name: "Kale", kcal: 49, protein: 4.3, fat: 0.9, carbs: 9, fiber: 4.1, quality: model.QualityHigh},
	{name: "Carrot", kcal: 41, protein: 0.9, fat: 0.2, carbs: 10, fiber: 2.8, quality: model.QualityHigh},
	{name: "Bell pepper", kcal: 31, protein: 1, fat: 0.3, carbs: 6, fiber: 2.1, quality: model.QualityHigh},
	{name: "Zucchini", kcal: 17, protein: 1.2, fat: 0.3, carbs: 3.1, fiber: 1, quality: model.QualityHigh},
	{name: "Tomato", kcal: 18, protein: 0.9, fat: 0.2, carbs: 3.9, fiber: 1.2, quality: model.QualityHigh},
	{name: "Cucumber", kcal: 15, protein: 0.7, fat: 0.1, carbs: 3.6, fiber: 0.5, quality: model.QualityHigh},
	{name: "Lettuce", kcal: 15, protein: 1.4, fat: 0.2, carbs: 2.9, fiber: 1.3, quality: model.QualityHigh},
	{name: "Cauliflower", kcal: 25, protein: 1.9, fat: 0.3, carbs: 5, fiber: 2, quality: model.QualityHigh},
}

var fruitBases = []macroTemplate{
	{name: "Apple", kcal: 52, protein: 0.3, fat: 0.2, carbs: 14, fiber: 2.4, quality: model.QualityHigh},
	{name: "Banana", kcal: 89, protein: 1.1, fat: 0.3, carbs: 23, fiber: 2.6, quality: model.QualityHigh},
	{name: "Orange", kcal: 47, protein: 0.9, fat: 0.1, carbs: 12, fiber: 2.4, quality: model.QualityHigh},
	{name: "Strawberry", kcal: 32, protein: 0.7, fat: 0.3, carbs: 7.7, fiber: 2, quality: model.QualityHigh},
	{name: "Blueberries", kcal: 57, protein: 0.7, fat: 0.3, carbs: 14, fiber: 2.4, quality: model.QualityHigh},
	{name: "Grapes", kcal: 69, protein: 0.7, fat: 0.2, carbs: 18, fiber: 0.9, quality: model.QualityHigh},
	{name: "Mango", kcal: 60, protein: 0.8, fat: 0.4, carbs: 15, fiber: 1.6, quality: model.QualityHigh},
	{name: "Pineapple", kcal: 50, protein: 0.5, fat: 0.1, carbs: 13, fiber: 1.4, quality: model.QualityHigh},
}

var fatBases = []macroTemplate{
	{name: "Olive oil", kcal: 884, protein: 0, fat: 100, carbs: 0, fiber: 0, quality: model.QualityMed},
	{name: "Butter", kcal: 717, protein: 1, fat: 81, carbs: 0.1, fiber: 0, quality: model.QualityLow},
	{name: "Avocado", kcal: 160, protein: 2, fat: 14.7, carbs: 8.5, fiber: 6.7, quality: model.QualityHigh},
	{name: "Almonds", kcal: 579, protein: 21, fat: 50, carbs: 22, fiber: 12.5, quality: model.QualityMed},
	{name: "Peanut butter", kcal: 588, protein: 25, fat: 50, carbs: 20, fiber: 6, quality: model.QualityMed},
}

// 食材カテゴリごとの調理法バリエーション。
var (
	proteinVariants = []string{"raw", "cooked", "grilled", "roasted"}
	carbVariants    = []string{"cooked", "dry", "boiled", "baked", "steamed"}
	vegVariants     = []string{"raw", "steamed", "roasted", "sauteed", "boiled"}
	fruitVariants   = []string{"raw", "fresh", "sliced", "chopped", "juice"}
	fatVariants     = []string{"raw", "roasted", "cold pressed", "smooth"}
)

// nonAlnumPattern はスラグ化で"_"に置換される文字列にマッチする。
var nonAlnumPattern = regexp.MustCompile(`[^a-z0-9]+`)

// Slugify は名前を内部スラグ形式（小文字英数字と"_"）に変換する。
func Slugify(value string) string {
	slug := nonAlnumPattern.ReplaceAllString(strings.ToLower(value), "_")
	return strings.Trim(slug, "_")
}

// BuildSynonyms は基本名からシノニムリストを組み立てる。
// 小文字化した基本名全体と、その各トークンを重複なく含む。
func BuildSynonyms(baseName string) []string {
	lower := strings.ToLower(baseName)
	tokens := strings.Fields(lower)

	seen := map[string]struct{}{lower: {}}
	synonyms := []string{lower}
	for _, token := range tokens {
		if _, ok := seen[token]; ok {
			continue
		}
		seen[token] = struct{}{}
		synonyms = append(synonyms, token)
	}
	return synonyms
}

// makeCandidate は基本食材と調理法バリエーションから候補を1件組み立てる。
func makeCandidate(base macroTemplate, variant string) model.Candidate {
	name := fmt.Sprintf("%s (%s)", base.name, variant)
	internalSlug := Slugify(base.name) + "_" + Slugify(variant)

	serving := 100.0
	fiber := base.fiber

	return model.Candidate{
		Source:         model.SourceInternal,
		ExternalID:     internalSlug,
		Name:           name,
		ServingSizeG:   &serving,
		KcalPer100g:    math.Round(base.kcal),
		ProteinPer100g: base.protein,
		FatPer100g:     base.fat,
		CarbsPer100g:   base.carbs,
		FiberPer100g:   &fiber,
		Quality:        base.quality,
		IsEstimate:     true,
		Synonyms:       BuildSynonyms(base.name),
		InternalSlug:   &internalSlug,
	}
}

// expand は基本食材リストと調理法リストの直積を展開する。
func expand(bases []macroTemplate, variantList []string) []model.Candidate {
	candidates := make([]model.Candidate, 0, len(bases)*len(variantList))
	for _, base := range bases {
		for _, variant := range variantList {
			candidates = append(candidates, makeCandidate(base, variant))
		}
	}
	return candidates
}

// BuildInternalFoods は内部キュレーション食品の全候補を組み立てる。
func BuildInternalFoods() []model.Candidate {
	var candidates []model.Candidate
	candidates = append(candidates, expand(proteinBases, proteinVariants)...)
	candidates = append(candidates, expand(carbBases, carbVariants)...)
	candidates = append(candidates, expand(vegBases, vegVariants)...)
	candidates = append(candidates, expand(fruitBases, fruitVariants)...)
	candidates = append(candidates, expand(fatBases, fatVariants)...)
	return candidates
}

// Seeder は内部食品のシード投入を行う。
type Seeder struct {
	repo   repository.FoodItemRepository
	logger *slog.Logger
}

// NewSeeder はSeeder の新しいインスタンスを生成する。
func NewSeeder(repo repository.FoodItemRepository, logger *slog.Logger) *Seeder {
	return &Seeder{
		repo:   repo,
		logger: logger,
	}
}

// Run は内部食品をUPSERTで投入する。再実行しても重複は生じない。
// 投入した件数を返す。
func (s *Seeder) Run(ctx context.Context) (int, error) {
	candidates := BuildInternalFoods()

	items, err := s.repo.UpsertCandidates(ctx, candidates)
	if err != nil {
		return 0, fmt.Errorf("内部食品のシード投入に失敗しました: %w", err)
	}

	total, err := s.repo.CountBySource(ctx, model.SourceInternal)
	if err != nil {
		return 0, fmt.Errorf("シード件数の確認に失敗しました: %w", err)
	}

	s.logger.Info("内部食品のシード投入が完了しました",
		slog.Int("upserted", len(items)),
		slog.Int("total_internal", total),
	)

	return len(items), nil
}
