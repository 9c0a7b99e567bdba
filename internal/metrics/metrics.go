// Package metrics はPrometheusメトリクスの収集と公開を提供する。
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// MetricsCollector はメトリクス収集のインターフェース。
// カタログサービス層から利用する。
type MetricsCollector interface {
	RecordProviderCall(provider string, outcome string)
	RecordProviderLatency(provider string, duration time.Duration)
	RecordItemsUpserted(source string, count int)
	RecordSearchLatency(duration time.Duration)
	RecordBarcodeLookup(result string)
}

// プロバイダ呼び出し結果のラベル値。
const (
	OutcomeSuccess     = "success"
	OutcomeFailed      = "failed"
	OutcomeRateLimited = "rate_limited"
	OutcomeCircuitOpen = "circuit_open"
)

// バーコード照会結果のラベル値。
const (
	BarcodeHitFresh = "hit_fresh"
	BarcodeHitStale = "hit_stale"
	BarcodeMiss     = "miss"
)

// Collector はPrometheusメトリクスを収集する実装。
type Collector struct {
	providerCalls   *prometheus.CounterVec
	providerLatency *prometheus.HistogramVec
	itemsUpserted   *prometheus.CounterVec
	searchLatency   prometheus.Histogram
	barcodeLookups  *prometheus.CounterVec
}

// NewCollector は新しいCollectorを生成し、指定されたレジストリにメトリクスを登録する。
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		providerCalls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "nutriman_provider_calls_total",
			Help: "外部プロバイダ呼び出しの結果別の合計数",
		}, []string{"provider", "outcome"}),
		providerLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "nutriman_provider_latency_seconds",
			Help:    "外部プロバイダ呼び出しのレイテンシ（秒）",
			Buckets: prometheus.DefBuckets,
		}, []string{"provider"}),
		itemsUpserted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "nutriman_food_items_upserted_total",
			Help: "アップサートされた食品項目のソース別の合計数",
		}, []string{"source"}),
		searchLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "nutriman_catalog_search_latency_seconds",
			Help:    "カタログ検索全体のレイテンシ（秒）",
			Buckets: prometheus.DefBuckets,
		}),
		barcodeLookups: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "nutriman_barcode_lookups_total",
			Help: "バーコード照会のキャッシュ結果別の合計数",
		}, []string{"result"}),
	}

	reg.MustRegister(
		c.providerCalls,
		c.providerLatency,
		c.itemsUpserted,
		c.searchLatency,
		c.barcodeLookups,
	)

	return c
}

// RecordProviderCall はプロバイダ呼び出しの結果を記録する。
func (c *Collector) RecordProviderCall(provider string, outcome string) {
	c.providerCalls.WithLabelValues(provider, outcome).Inc()
}

// RecordProviderLatency はプロバイダ呼び出しのレイテンシを記録する。
func (c *Collector) RecordProviderLatency(provider string, duration time.Duration) {
	c.providerLatency.WithLabelValues(provider).Observe(duration.Seconds())
}

// RecordItemsUpserted はアップサートされた食品項目数を記録する。
func (c *Collector) RecordItemsUpserted(source string, count int) {
	c.itemsUpserted.WithLabelValues(source).Add(float64(count))
}

// RecordSearchLatency はカタログ検索全体のレイテンシを記録する。
func (c *Collector) RecordSearchLatency(duration time.Duration) {
	c.searchLatency.Observe(duration.Seconds())
}

// RecordBarcodeLookup はバーコード照会のキャッシュ結果を記録する。
func (c *Collector) RecordBarcodeLookup(result string) {
	c.barcodeLookups.WithLabelValues(result).Inc()
}

// Handler はPrometheusスクレイプ用のHTTPハンドラーを返す。
func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}

// SetupMetricsRoute は/metricsエンドポイントを提供するHTTPハンドラーを返す。
// Prometheusスクレイプに対応する。
func SetupMetricsRoute(gatherer prometheus.Gatherer) http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", Handler(gatherer))
	return mux
}
