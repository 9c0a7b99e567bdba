// Package handler はHTTP APIのハンドラーとルーティングを提供する。
package handler

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/hitoshi/nutriman/internal/catalog"
	"github.com/hitoshi/nutriman/internal/middleware"
	"github.com/hitoshi/nutriman/internal/model"
)

const (
	// defaultSearchLimit は検索結果件数のデフォルト。
	defaultSearchLimit = 10
	// maxSearchLimit は検索結果件数の上限。
	maxSearchLimit = 25
)

// barcodePattern はEAN/UPCコード（数字8〜14桁）にマッチする。
var barcodePattern = regexp.MustCompile(`^[0-9]{8,14}$`)

// CatalogServiceInterface はカタログハンドラーが必要とするサービスインターフェース。
type CatalogServiceInterface interface {
	SearchCatalog(ctx context.Context, query string, limit int, opts catalog.CallOptions) ([]*model.CatalogItem, error)
	GetByBarcode(ctx context.Context, ean string, fallbackName string, opts catalog.CallOptions) (*model.CatalogItem, error)
}

// CatalogHandler は食品カタログAPIのHTTPハンドラー。
type CatalogHandler struct {
	service CatalogServiceInterface
	logger  *slog.Logger
}

// NewCatalogHandler はCatalogHandlerを生成する。
func NewCatalogHandler(service CatalogServiceInterface, logger *slog.Logger) *CatalogHandler {
	return &CatalogHandler{
		service: service,
		logger:  logger,
	}
}

// --- レスポンス型 ---

// foodItemResponse は食品カタログ項目のレスポンス。
type foodItemResponse struct {
	ID             string     `json:"id"`
	Source         string     `json:"source"`
	Name           string     `json:"name"`
	Brand          *string    `json:"brand,omitempty"`
	Barcode        *string    `json:"barcode,omitempty"`
	ServingSizeG   *float64   `json:"serving_size_g,omitempty"`
	KcalPer100g    float64    `json:"kcal_per_100g"`
	ProteinPer100g float64    `json:"protein_per_100g"`
	FatPer100g     float64    `json:"fat_per_100g"`
	CarbsPer100g   float64    `json:"carbs_per_100g"`
	FiberPer100g   *float64   `json:"fiber_per_100g,omitempty"`
	Quality        string     `json:"quality"`
	IsEstimate     bool       `json:"is_estimate"`
	LastFetchedAt  *time.Time `json:"last_fetched_at,omitempty"`
	UpdatedAt      time.Time  `json:"updated_at"`
}

// searchResponse は検索結果のレスポンス。
type searchResponse struct {
	Items []foodItemResponse `json:"items"`
}

// toFoodItemResponse はカタログ項目をレスポンス型に変換する。
func toFoodItemResponse(item *model.CatalogItem) foodItemResponse {
	return foodItemResponse{
		ID:             item.ID,
		Source:         string(item.Source),
		Name:           item.Name,
		Brand:          item.Brand,
		Barcode:        item.Barcode,
		ServingSizeG:   item.ServingSizeG,
		KcalPer100g:    item.KcalPer100g,
		ProteinPer100g: item.ProteinPer100g,
		FatPer100g:     item.FatPer100g,
		CarbsPer100g:   item.CarbsPer100g,
		FiberPer100g:   item.FiberPer100g,
		Quality:        string(item.Quality),
		IsEstimate:     item.IsEstimate,
		LastFetchedAt:  item.LastFetchedAt,
		UpdatedAt:      item.UpdatedAt,
	}
}

// Search は名前クエリで食品カタログを検索する。
// GET /api/catalog/search?q=xxx&limit=10&internal_only=true
func (h *CatalogHandler) Search(w http.ResponseWriter, r *http.Request) {
	query := strings.TrimSpace(r.URL.Query().Get("q"))
	if query == "" {
		middleware.WriteErrorResponse(w, http.StatusBadRequest, model.NewInvalidQueryError("qパラメータが空です"))
		return
	}

	limit := parseLimit(r.URL.Query().Get("limit"))
	opts := parseCallOptions(r)

	items, err := h.service.SearchCatalog(r.Context(), query, limit, opts)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}

	responses := make([]foodItemResponse, 0, len(items))
	for _, item := range items {
		responses = append(responses, toFoodItemResponse(item))
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(searchResponse{Items: responses})
}

// GetByBarcode はバーコードで食品を1件取得する。
// GET /api/catalog/barcode/{ean}?fallback_name=xxx
func (h *CatalogHandler) GetByBarcode(w http.ResponseWriter, r *http.Request) {
	ean := chi.URLParam(r, "ean")
	if !barcodePattern.MatchString(ean) {
		middleware.WriteErrorResponse(w, http.StatusBadRequest, model.NewInvalidBarcodeError(ean))
		return
	}

	fallbackName := strings.TrimSpace(r.URL.Query().Get("fallback_name"))
	opts := parseCallOptions(r)

	item, err := h.service.GetByBarcode(r.Context(), ean, fallbackName, opts)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}

	if item == nil {
		middleware.WriteErrorResponse(w, http.StatusNotFound, model.NewFoodItemNotFoundError(ean))
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(toFoodItemResponse(item))
}

// writeServiceError はサービス層のエラーをHTTPレスポンスへ変換する。
// プロバイダ利用不可は502、それ以外は500を返す。
func (h *CatalogHandler) writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	var unavailable *catalog.ProviderUnavailableError
	if errors.As(err, &unavailable) {
		middleware.WriteErrorResponse(w, http.StatusBadGateway,
			model.NewProviderUnavailableError(unavailable.Provider, string(unavailable.Code)))
		return
	}

	h.logger.Error("カタログAPIの処理に失敗しました",
		slog.String("path", r.URL.Path),
		slog.String("error", err.Error()),
	)
	middleware.WriteInternalServerError(w)
}

// parseLimit はlimitパラメータを1〜25の範囲に正規化する。未指定・不正値は10。
func parseLimit(raw string) int {
	if raw == "" {
		return defaultSearchLimit
	}
	limit, err := strconv.Atoi(raw)
	if err != nil {
		return defaultSearchLimit
	}
	if limit < 1 {
		return 1
	}
	if limit > maxSearchLimit {
		return maxSearchLimit
	}
	return limit
}

// parseCallOptions はリクエストパラメータからリクエスト単位のオプションを組み立てる。
// 指定のないオプションはサービス設定の既定値に従う。
func parseCallOptions(r *http.Request) catalog.CallOptions {
	opts := catalog.CallOptions{}
	if raw := r.URL.Query().Get("internal_only"); raw != "" {
		if value, err := strconv.ParseBool(raw); err == nil {
			opts.InternalOnly = &value
		}
	}
	return opts
}
