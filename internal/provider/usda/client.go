// Package usda はUSDA FoodData Central APIのクライアントを提供する。
// Foundation / SR Legacy データは100gあたりの実測値として標準品質で扱い、
// Branded データはサービングあたりの値を100gあたりに換算した低品質の推定値として扱う。
package usda

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/hitoshi/nutriman/internal/model"
	"github.com/hitoshi/nutriman/internal/provider"
	"github.com/hitoshi/nutriman/internal/security"
)

// FoodData Central の栄養素ID。
const (
	nutrientIDEnergy  = 1008
	nutrientIDProtein = 1003
	nutrientIDFat     = 1004
	nutrientIDCarbs   = 1005
	nutrientIDFiber   = 1079
)

// barcodePageSize はバーコード照会時の検索件数。gtinUpcの一致を探すための余裕を持たせる。
const barcodePageSize = 5

// Client はUSDA FoodData Central APIのクライアント。
// APIキーが未設定の場合、呼び出しは行わず空の結果を返す。
type Client struct {
	httpClient *http.Client
	sanitizer  security.TextSanitizerService
	logger     *slog.Logger
	baseURL    string // テスト用に差し替え可能
	apiKey     string
}

// NewClient はClient の新しいインスタンスを生成する。
func NewClient(httpClient *http.Client, sanitizer security.TextSanitizerService, logger *slog.Logger, baseURL, apiKey string) *Client {
	return &Client{
		httpClient: httpClient,
		sanitizer:  sanitizer,
		logger:     logger,
		baseURL:    strings.TrimRight(baseURL, "/"),
		apiKey:     apiKey,
	}
}

// usdaNutrient は検索レスポンス中の栄養素エントリ。
type usdaNutrient struct {
	NutrientID   int         `json:"nutrientId"`
	NutrientName string      `json:"nutrientName"`
	UnitName     string      `json:"unitName"`
	Value        interface{} `json:"value"`
}

// usdaFood は検索レスポンス中の食品エントリ。
type usdaFood struct {
	FdcID           int64          `json:"fdcId"`
	Description     string         `json:"description"`
	DataType        string         `json:"dataType"`
	BrandOwner      string         `json:"brandOwner"`
	BrandName       string         `json:"brandName"`
	GtinUpc         string         `json:"gtinUpc"`
	ServingSize     interface{}    `json:"servingSize"`
	ServingSizeUnit string         `json:"servingSizeUnit"`
	FoodNutrients   []usdaNutrient `json:"foodNutrients"`
}

// searchResponse は/foods/searchのレスポンス。
type searchResponse struct {
	Foods []usdaFood `json:"foods"`
}

// Search は名前クエリでFoodData Centralを検索し、正規化済み候補を返す。
// APIキー未設定時は呼び出さずに空スライスを返す。
func (c *Client) Search(ctx context.Context, query string, limit int) ([]model.Candidate, error) {
	if c.apiKey == "" {
		return []model.Candidate{}, nil
	}

	result, err := c.search(ctx, query, limit)
	if err != nil {
		return nil, err
	}

	candidates := make([]model.Candidate, 0, len(result.Foods))
	for _, food := range result.Foods {
		if candidate := c.normalizeFood(food); candidate != nil {
			candidates = append(candidates, *candidate)
		}
	}

	c.logger.Debug("USDA検索が完了しました",
		slog.String("query", query),
		slog.Int("raw_count", len(result.Foods)),
		slog.Int("candidate_count", len(candidates)),
	)

	return candidates, nil
}

// Barcode はGTIN/UPCで食品を照会する。検索APIにバーコードをクエリとして渡し、
// gtinUpcが一致する最初の食品を返す。APIキー未設定時や該当なしは (nil, nil)。
func (c *Client) Barcode(ctx context.Context, ean string) (*model.Candidate, error) {
	if c.apiKey == "" {
		return nil, nil
	}

	result, err := c.search(ctx, ean, barcodePageSize)
	if err != nil {
		return nil, err
	}

	for _, food := range result.Foods {
		if !gtinMatches(food.GtinUpc, ean) {
			continue
		}
		candidate := c.normalizeFood(food)
		if candidate == nil {
			continue
		}
		barcode := ean
		candidate.Barcode = &barcode
		return candidate, nil
	}

	return nil, nil
}

// search は/foods/searchエンドポイントを呼び出す。
func (c *Client) search(ctx context.Context, query string, pageSize int) (*searchResponse, error) {
	reqURL, err := url.Parse(c.baseURL + "/foods/search")
	if err != nil {
		return nil, fmt.Errorf("検索URLの構築に失敗しました: %w", err)
	}

	q := reqURL.Query()
	q.Set("api_key", c.apiKey)
	q.Set("query", query)
	q.Set("pageSize", strconv.Itoa(pageSize))
	reqURL.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("HTTPリクエストの作成に失敗しました: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.logger.Error("USDA APIの呼び出しに失敗しました",
			slog.String("error", err.Error()),
		)
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		c.logger.Error("USDA APIがエラーステータスを返しました",
			slog.Int("http_status", resp.StatusCode),
		)
		return nil, fmt.Errorf("USDA APIがステータス %d を返しました", resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("レスポンスボディの読み取りに失敗しました: %w", err)
	}

	var result searchResponse
	if err := json.Unmarshal(body, &result); err != nil {
		return nil, fmt.Errorf("レスポンスJSONのパースに失敗しました: %w", err)
	}

	return &result, nil
}

// normalizeFood は食品エントリを正規化済み候補に変換する。
// 必須マクロ栄養素が揃わない場合、またはBrandedデータでサービングサイズが
// 解釈できず100gあたりへ換算できない場合はnilを返す。
func (c *Client) normalizeFood(food usdaFood) *model.Candidate {
	name := c.sanitizer.Sanitize(food.Description)
	if name == "" || food.FdcID == 0 {
		return nil
	}

	kcal, ok := findNutrient(food.FoodNutrients, nutrientIDEnergy, "Energy")
	if !ok {
		return nil
	}
	protein, ok := findNutrient(food.FoodNutrients, nutrientIDProtein, "Protein")
	if !ok {
		return nil
	}
	fat, ok := findNutrient(food.FoodNutrients, nutrientIDFat, "Total lipid (fat)")
	if !ok {
		return nil
	}
	carbs, ok := findNutrient(food.FoodNutrients, nutrientIDCarbs, "Carbohydrate, by difference")
	if !ok {
		return nil
	}
	fiber, hasFiber := findNutrient(food.FoodNutrients, nutrientIDFiber, "Fiber, total dietary")

	candidate := &model.Candidate{
		Source:         model.SourceUSDA,
		ExternalID:     strconv.FormatInt(food.FdcID, 10),
		Name:           name,
		KcalPer100g:    kcal,
		ProteinPer100g: protein,
		FatPer100g:     fat,
		CarbsPer100g:   carbs,
		Quality:        model.QualityMed,
		IsEstimate:     false,
	}

	if hasFiber {
		candidate.FiberPer100g = &fiber
	}

	if brand := c.sanitizer.Sanitize(firstNonEmpty(food.BrandOwner, food.BrandName)); brand != "" {
		candidate.Brand = &brand
	}

	if food.GtinUpc != "" {
		barcode := food.GtinUpc
		candidate.Barcode = &barcode
	}

	// Brandedデータはサービングあたりの値のため100gあたりへ換算する。
	// 換算結果は実測値ではないので低品質の推定値として扱う。
	if food.DataType == "Branded" {
		serving, ok := provider.ToNumber(food.ServingSize)
		unit := strings.ToLower(strings.TrimSpace(food.ServingSizeUnit))
		if !ok || serving <= 0 || (unit != "g" && unit != "ml") {
			return nil
		}

		factor := 100 / serving
		candidate.KcalPer100g *= factor
		candidate.ProteinPer100g *= factor
		candidate.FatPer100g *= factor
		candidate.CarbsPer100g *= factor
		if candidate.FiberPer100g != nil {
			converted := *candidate.FiberPer100g * factor
			candidate.FiberPer100g = &converted
		}
		candidate.ServingSizeG = &serving
		candidate.Quality = model.QualityLow
		candidate.IsEstimate = true
	}

	return candidate
}

// findNutrient は栄養素IDで検索し、見つからなければ名前で検索する。
func findNutrient(nutrients []usdaNutrient, id int, name string) (float64, bool) {
	for _, n := range nutrients {
		if n.NutrientID == id {
			if value, ok := provider.ToNumber(n.Value); ok {
				return value, true
			}
		}
	}
	for _, n := range nutrients {
		if strings.EqualFold(n.NutrientName, name) {
			if value, ok := provider.ToNumber(n.Value); ok {
				return value, true
			}
		}
	}
	return 0, false
}

// gtinMatches はgtinUpcとバーコードを先頭ゼロを無視して比較する。
// GTIN-13とUPC-Aの桁数差を吸収する。
func gtinMatches(gtin, ean string) bool {
	if gtin == "" || ean == "" {
		return false
	}
	return strings.TrimLeft(gtin, "0") == strings.TrimLeft(ean, "0")
}

// firstNonEmpty は最初の非空文字列を返す。
func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return strings.TrimSpace(v)
		}
	}
	return ""
}

// compile-time interface check
var _ provider.Provider = (*Client)(nil)
