// Package off はOpen Food Facts APIのクライアントを提供する。
// コミュニティ編集された食品データベースのため、取得したテキストは
// サニタイズし、数値は失敗可能な変換で解釈する。
package off

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"regexp"
	"strconv"
	"strings"

	"github.com/hitoshi/nutriman/internal/model"
	"github.com/hitoshi/nutriman/internal/provider"
	"github.com/hitoshi/nutriman/internal/security"
)

// searchFields は検索APIで取得するフィールドの一覧。レスポンスサイズを抑える。
const searchFields = "code,product_name,product_name_en,generic_name,generic_name_en,brands,serving_size,nutriments"

// servingSizePattern は "30g" や "240 ml" のようなサービングサイズ表記にマッチする。
var servingSizePattern = regexp.MustCompile(`(?i)(\d+(?:\.\d+)?)\s*(g|ml)`)

// Client はOpen Food Facts APIのクライアント。
// 検索はレガシーのcgi/search.plエンドポイント、バーコード照会はv2 APIを使用する。
type Client struct {
	httpClient *http.Client
	sanitizer  security.TextSanitizerService
	logger     *slog.Logger
	baseURL    string // テスト用に差し替え可能
	userAgent  string
}

// NewClient はClient の新しいインスタンスを生成する。
func NewClient(httpClient *http.Client, sanitizer security.TextSanitizerService, logger *slog.Logger, baseURL, userAgent string) *Client {
	return &Client{
		httpClient: httpClient,
		sanitizer:  sanitizer,
		logger:     logger,
		baseURL:    strings.TrimRight(baseURL, "/"),
		userAgent:  userAgent,
	}
}

// offProduct はOpen Food Factsの製品レスポンス。
// nutrimentsは数値と文字列が混在するためinterface{}で受ける。
type offProduct struct {
	Code          string                 `json:"code"`
	ProductName   string                 `json:"product_name"`
	ProductNameEn string                 `json:"product_name_en"`
	GenericName   string                 `json:"generic_name"`
	GenericNameEn string                 `json:"generic_name_en"`
	Brands        string                 `json:"brands"`
	ServingSize   string                 `json:"serving_size"`
	Nutriments    map[string]interface{} `json:"nutriments"`
}

// searchResponse は検索APIのレスポンス。
type searchResponse struct {
	Products []offProduct `json:"products"`
}

// barcodeResponse はバーコード照会APIのレスポンス。
type barcodeResponse struct {
	Status  int        `json:"status"`
	Product offProduct `json:"product"`
}

// Search は名前クエリでOpen Food Factsを検索し、正規化済み候補を返す。
// 正規化できなかった製品（名前なし、必須栄養素の欠損）はスキップする。
func (c *Client) Search(ctx context.Context, query string, limit int) ([]model.Candidate, error) {
	reqURL, err := url.Parse(c.baseURL + "/cgi/search.pl")
	if err != nil {
		return nil, fmt.Errorf("検索URLの構築に失敗しました: %w", err)
	}

	q := reqURL.Query()
	q.Set("search_terms", query)
	q.Set("search_simple", "1")
	q.Set("action", "process")
	q.Set("json", "1")
	q.Set("page_size", strconv.Itoa(limit))
	q.Set("fields", searchFields)
	reqURL.RawQuery = q.Encode()

	var result searchResponse
	if err := c.get(ctx, reqURL.String(), &result); err != nil {
		return nil, err
	}

	candidates := make([]model.Candidate, 0, len(result.Products))
	for _, product := range result.Products {
		if candidate := c.normalizeProduct(product); candidate != nil {
			candidates = append(candidates, *candidate)
		}
	}

	c.logger.Debug("Open Food Facts検索が完了しました",
		slog.String("query", query),
		slog.Int("raw_count", len(result.Products)),
		slog.Int("candidate_count", len(candidates)),
	)

	return candidates, nil
}

// Barcode はバーコードで製品を1件照会する。
// 製品が見つからない場合（status != 1）や正規化できない場合は (nil, nil) を返す。
func (c *Client) Barcode(ctx context.Context, ean string) (*model.Candidate, error) {
	reqURL := fmt.Sprintf("%s/api/v2/product/%s.json", c.baseURL, url.PathEscape(ean))

	var result barcodeResponse
	if err := c.get(ctx, reqURL, &result); err != nil {
		return nil, err
	}

	if result.Status != 1 {
		return nil, nil
	}

	candidate := c.normalizeProduct(result.Product)
	if candidate == nil {
		return nil, nil
	}

	// 照会したバーコードをそのまま候補に反映する
	barcode := ean
	candidate.Barcode = &barcode
	return candidate, nil
}

// get はGETリクエストを実行してJSONレスポンスをデコードする。
func (c *Client) get(ctx context.Context, reqURL string, out interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return fmt.Errorf("HTTPリクエストの作成に失敗しました: %w", err)
	}
	req.Header.Set("User-Agent", c.userAgent)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.logger.Error("Open Food Facts APIの呼び出しに失敗しました",
			slog.String("error", err.Error()),
		)
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		c.logger.Error("Open Food Facts APIがエラーステータスを返しました",
			slog.Int("http_status", resp.StatusCode),
		)
		return fmt.Errorf("Open Food Facts APIがステータス %d を返しました", resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("レスポンスボディの読み取りに失敗しました: %w", err)
	}

	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("レスポンスJSONのパースに失敗しました: %w", err)
	}

	return nil
}

// normalizeProduct は製品レスポンスを正規化済み候補に変換する。
// 名前が得られない、または必須マクロ栄養素（kcal・タンパク質・脂質・炭水化物）
// のいずれかが解釈できない場合はnilを返す。
func (c *Client) normalizeProduct(product offProduct) *model.Candidate {
	name := c.sanitizer.Sanitize(firstNonEmpty(
		product.ProductName,
		product.ProductNameEn,
		product.GenericName,
		product.GenericNameEn,
	))
	if name == "" || product.Code == "" {
		return nil
	}

	kcal, ok := nutriment(product.Nutriments, "energy-kcal_100g", "energy_kcal_100g")
	if !ok {
		return nil
	}
	protein, ok := nutriment(product.Nutriments, "proteins_100g")
	if !ok {
		return nil
	}
	fat, ok := nutriment(product.Nutriments, "fat_100g")
	if !ok {
		return nil
	}
	carbs, ok := nutriment(product.Nutriments, "carbohydrates_100g")
	if !ok {
		return nil
	}

	candidate := &model.Candidate{
		Source:         model.SourceOFF,
		ExternalID:     product.Code,
		Name:           name,
		KcalPer100g:    kcal,
		ProteinPer100g: protein,
		FatPer100g:     fat,
		CarbsPer100g:   carbs,
		Quality:        model.QualityMed,
		IsEstimate:     false,
	}

	if product.Code != "" {
		barcode := product.Code
		candidate.Barcode = &barcode
	}

	if fiber, ok := nutriment(product.Nutriments, "fiber_100g"); ok {
		candidate.FiberPer100g = &fiber
	}

	// ブランドはカンマ区切りリストの先頭のみ採用する
	if brand := c.sanitizer.Sanitize(firstOfCommaList(product.Brands)); brand != "" {
		candidate.Brand = &brand
	}

	if serving, ok := parseServingSize(product.ServingSize); ok {
		candidate.ServingSizeG = &serving
	}

	return candidate
}

// nutriment は指定キーのうち最初に解釈できた栄養素値を返す。
func nutriment(nutriments map[string]interface{}, keys ...string) (float64, bool) {
	for _, key := range keys {
		if raw, exists := nutriments[key]; exists {
			if value, ok := provider.ToNumber(raw); ok {
				return value, true
			}
		}
	}
	return 0, false
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

// firstOfCommaList はカンマ区切りリストの先頭要素を返す。
func firstOfCommaList(list string) string {
	first, _, _ := strings.Cut(list, ",")
	return strings.TrimSpace(first)
}

// parseServingSize は "30g" や "240 ml" のようなサービングサイズ表記から数値を抽出する。
func parseServingSize(servingSize string) (float64, bool) {
	matches := servingSizePattern.FindStringSubmatch(servingSize)
	if matches == nil {
		return 0, false
	}
	value, err := strconv.ParseFloat(matches[1], 64)
	if err != nil {
		return 0, false
	}
	return value, true
}

// compile-time interface check
var _ provider.Provider = (*Client)(nil)
