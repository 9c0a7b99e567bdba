package off

import (
	"bytes"
	"context"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/hitoshi/nutriman/internal/model"
	"github.com/hitoshi/nutriman/internal/security"
)

func newTestLogger(buf *bytes.Buffer) *slog.Logger {
	return slog.New(slog.NewJSONHandler(buf, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
}

func newTestClient(serverURL string, httpClient *http.Client) *Client {
	var buf bytes.Buffer
	return NewClient(httpClient, security.NewTextSanitizer(), newTestLogger(&buf), serverURL, "Nutriman/1.0 Nutrition Tracker")
}

func TestClient_Search(t *testing.T) {
	// テスト用HTTPサーバー: 検索クエリを検証して製品リストを返す
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasPrefix(r.URL.Path, "/cgi/search.pl") {
			t.Errorf("パス = %s, want /cgi/search.pl", r.URL.Path)
		}
		q := r.URL.Query()
		if q.Get("search_terms") != "peanut butter" {
			t.Errorf("search_terms = %q, want %q", q.Get("search_terms"), "peanut butter")
		}
		if q.Get("json") != "1" || q.Get("action") != "process" {
			t.Errorf("json/actionパラメータが不正: %v", q)
		}
		if q.Get("page_size") != "10" {
			t.Errorf("page_size = %q, want 10", q.Get("page_size"))
		}

		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{
			"products": [
				{
					"code": "123456789",
					"product_name": "<b>Peanut Butter</b>",
					"brands": "NutCo, OtherBrand",
					"serving_size": "32 g",
					"nutriments": {
						"energy-kcal_100g": 588,
						"proteins_100g": "25.1",
						"fat_100g": 50,
						"carbohydrates_100g": 20,
						"fiber_100g": 6
					}
				},
				{
					"code": "999",
					"product_name": "Mystery Spread",
					"nutriments": {
						"energy-kcal_100g": 100
					}
				},
				{
					"code": "888",
					"product_name": "",
					"nutriments": {
						"energy-kcal_100g": 50,
						"proteins_100g": 1,
						"fat_100g": 1,
						"carbohydrates_100g": 10
					}
				}
			]
		}`))
	}))
	defer server.Close()

	c := newTestClient(server.URL, server.Client())

	candidates, err := c.Search(context.Background(), "peanut butter", 10)
	if err != nil {
		t.Fatalf("Search がエラーを返した: %v", err)
	}

	// 必須栄養素欠損と名前なしの製品はスキップされ、1件のみ残る
	if len(candidates) != 1 {
		t.Fatalf("候補数 = %d, want 1", len(candidates))
	}

	got := candidates[0]
	if got.Source != model.SourceOFF {
		t.Errorf("Source = %s, want OFF", got.Source)
	}
	if got.ExternalID != "123456789" {
		t.Errorf("ExternalID = %s, want 123456789", got.ExternalID)
	}
	// HTMLタグはサニタイズされる
	if got.Name != "Peanut Butter" {
		t.Errorf("Name = %q, want %q", got.Name, "Peanut Butter")
	}
	if got.Brand == nil || *got.Brand != "NutCo" {
		t.Errorf("Brand = %v, want NutCo（カンマ区切りの先頭のみ）", got.Brand)
	}
	if got.ServingSizeG == nil || *got.ServingSizeG != 32 {
		t.Errorf("ServingSizeG = %v, want 32", got.ServingSizeG)
	}
	if got.KcalPer100g != 588 {
		t.Errorf("KcalPer100g = %v, want 588", got.KcalPer100g)
	}
	// 文字列の栄養素値も数値に変換される
	if got.ProteinPer100g != 25.1 {
		t.Errorf("ProteinPer100g = %v, want 25.1", got.ProteinPer100g)
	}
	if got.FiberPer100g == nil || *got.FiberPer100g != 6 {
		t.Errorf("FiberPer100g = %v, want 6", got.FiberPer100g)
	}
	if got.Quality != model.QualityMed {
		t.Errorf("Quality = %s, want MED", got.Quality)
	}
	if got.IsEstimate {
		t.Error("OFFの100gあたりデータは推定値ではない")
	}
	if got.Barcode == nil || *got.Barcode != "123456789" {
		t.Errorf("Barcode = %v, want 123456789", got.Barcode)
	}
}

func TestClient_Barcode_Found(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/v2/product/4901234567894.json" {
			t.Errorf("パス = %s, want /api/v2/product/4901234567894.json", r.URL.Path)
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{
			"status": 1,
			"product": {
				"code": "4901234567894",
				"product_name": "Soy Milk",
				"nutriments": {
					"energy-kcal_100g": 54,
					"proteins_100g": 3.6,
					"fat_100g": 3.1,
					"carbohydrates_100g": 2.9
				}
			}
		}`))
	}))
	defer server.Close()

	c := newTestClient(server.URL, server.Client())

	got, err := c.Barcode(context.Background(), "4901234567894")
	if err != nil {
		t.Fatalf("Barcode がエラーを返した: %v", err)
	}
	if got == nil {
		t.Fatal("候補が返されるべき")
	}
	if got.Name != "Soy Milk" {
		t.Errorf("Name = %q, want Soy Milk", got.Name)
	}
	if got.Barcode == nil || *got.Barcode != "4901234567894" {
		t.Errorf("Barcode = %v, want 4901234567894", got.Barcode)
	}
}

func TestClient_Barcode_NotFound(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"status": 0}`))
	}))
	defer server.Close()

	c := newTestClient(server.URL, server.Client())

	got, err := c.Barcode(context.Background(), "0000000000000")
	if err != nil {
		t.Fatalf("Barcode がエラーを返した: %v", err)
	}
	if got != nil {
		t.Errorf("status 0 の場合はnilを返すべき, got %+v", got)
	}
}

func TestClient_Search_ServerError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	c := newTestClient(server.URL, server.Client())

	if _, err := c.Search(context.Background(), "milk", 10); err == nil {
		t.Error("サーバーエラー時はエラーを返すべき")
	}
}

func TestClient_Search_NameFallbackChain(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{
			"products": [
				{
					"code": "777",
					"product_name": "",
					"generic_name": "Plain Yogurt",
					"nutriments": {
						"energy_kcal_100g": 61,
						"proteins_100g": 3.5,
						"fat_100g": 3.3,
						"carbohydrates_100g": 4.7
					}
				}
			]
		}`))
	}))
	defer server.Close()

	c := newTestClient(server.URL, server.Client())

	candidates, err := c.Search(context.Background(), "yogurt", 5)
	if err != nil {
		t.Fatalf("Search がエラーを返した: %v", err)
	}
	if len(candidates) != 1 {
		t.Fatalf("候補数 = %d, want 1", len(candidates))
	}
	// product_nameが空ならgeneric_nameへフォールバックする
	if candidates[0].Name != "Plain Yogurt" {
		t.Errorf("Name = %q, want Plain Yogurt", candidates[0].Name)
	}
	// energy-kcal_100gがなければenergy_kcal_100gを使う
	if candidates[0].KcalPer100g != 61 {
		t.Errorf("KcalPer100g = %v, want 61", candidates[0].KcalPer100g)
	}
}
