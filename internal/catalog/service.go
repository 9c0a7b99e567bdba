package catalog

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/hitoshi/nutriman/internal/metrics"
	"github.com/hitoshi/nutriman/internal/model"
	"github.com/hitoshi/nutriman/internal/provider"
	"github.com/hitoshi/nutriman/internal/repository"
)

// プロバイダ名。ガードのバケット・サーキットとメトリクスのラベルに使用する。
const (
	ProviderOFF  = "off"
	ProviderUSDA = "usda"
)

// usdaSearchTarget は検索時にUSDAキャッシュ行がこの件数未満なら
// USDAへの追加フェッチを行う閾値。
const usdaSearchTarget = 5

// ServiceConfig は集約サービスの既定動作を設定する。
type ServiceConfig struct {
	// TTL はプロバイダ由来キャッシュ行の鮮度期限。
	TTL time.Duration
	// EnableOFF はOpen Food Factsプロバイダの有効フラグ。
	EnableOFF bool
	// EnableUSDA はUSDAプロバイダの有効フラグ。
	EnableUSDA bool
	// InternalOnly が真の場合、プロバイダは一切参照しない。
	InternalOnly bool
	// CacheOnlyOnProviderDown が真の場合、プロバイダ利用不可エラーを
	// 握りつぶしてキャッシュ済みの結果のみで応答する。
	CacheOnlyOnProviderDown bool
}

// CallOptions はリクエスト単位で設定既定値を上書きする。
// nilのフィールドは設定の既定値を使う。リクエストをまたぐ状態は持たない。
type CallOptions struct {
	InternalOnly            *bool
	EnableOFF               *bool
	EnableUSDA              *bool
	CacheOnlyOnProviderDown *bool
}

// CatalogService は食品カタログ集約のインターフェース。
// HTTPハンドラー層から利用される。
type CatalogService interface {
	// SearchCatalog は名前クエリでカタログを検索し、ランク済みの上位limit件を返す。
	SearchCatalog(ctx context.Context, query string, limit int, opts CallOptions) ([]*model.CatalogItem, error)

	// GetByBarcode はバーコードで最も適合する1件を返す。見つからなければ (nil, nil)。
	GetByBarcode(ctx context.Context, ean string, fallbackName string, opts CallOptions) (*model.CatalogItem, error)
}

// Service は集約オーケストレータの実装。
// キャッシュ済み行・内部専用ショートサーキット・ガード付きプロバイダ呼び出しを
// 組み合わせ、各段階でランキングエンジンを適用する。
type Service struct {
	repo      repository.FoodItemRepository
	guard     *ProviderGuard
	offClient provider.Provider
	usda      provider.Provider
	collector metrics.MetricsCollector
	logger    *slog.Logger
	cfg       ServiceConfig

	// now はテスト用に差し替え可能な現在時刻関数。
	now func() time.Time
}

// NewService はService の新しいインスタンスを生成する。
func NewService(
	repo repository.FoodItemRepository,
	guard *ProviderGuard,
	offClient provider.Provider,
	usdaClient provider.Provider,
	collector metrics.MetricsCollector,
	logger *slog.Logger,
	cfg ServiceConfig,
) *Service {
	return &Service{
		repo:      repo,
		guard:     guard,
		offClient: offClient,
		usda:      usdaClient,
		collector: collector,
		logger:    logger,
		cfg:       cfg,
		now:       time.Now,
	}
}

// SearchCatalog は名前クエリでカタログを検索する。
//
//  1. キャッシュ済み行をロードしてランクする。
//  2. 内部専用モードならプロバイダを参照せずそのまま返す。
//  3. キャッシュ中のUSDA行が目標件数未満ならUSDAをガード付きで追加フェッチする。
//  4. まだlimitに満たなければ、不足分のみOFFへ追加フェッチする。
//  5. プロバイダ利用不可エラーはポリシーに応じて握りつぶすか伝播する。
//
// プロバイダ取得分は外部IDを持つ候補のみUPSERTし、作業セットへ合流させて再ランクする。
func (s *Service) SearchCatalog(ctx context.Context, query string, limit int, opts CallOptions) ([]*model.CatalogItem, error) {
	start := s.now()
	defer func() {
		s.collector.RecordSearchLatency(time.Since(start))
	}()

	cached, err := s.repo.SearchByName(ctx, query, "", limit)
	if err != nil {
		return nil, fmt.Errorf("キャッシュの検索に失敗しました: %w", err)
	}

	working := cached
	ranked := MergeAndRank(working, limit, query)

	if s.internalOnly(opts) {
		return ranked, nil
	}

	// 政府系データベース（USDA）: キャッシュ行が目標件数未満の場合のみ追加フェッチする
	if s.enableUSDA(opts) && countBySource(cached, model.SourceUSDA) < usdaSearchTarget {
		candidates, err := s.guardedSearch(ctx, ProviderUSDA, s.usda, query, limit)
		if err != nil {
			if !s.swallowProviderError(opts, ProviderUSDA, err) {
				return nil, err
			}
		} else {
			upserted, err := s.upsertExternal(ctx, candidates)
			if err != nil {
				return nil, err
			}
			working = append(working, upserted...)
			ranked = MergeAndRank(working, limit, query)
		}
	}

	// オープンデータベース（OFF）: limitに満たない不足分のみ追加フェッチする
	if len(ranked) < limit && s.enableOFF(opts) {
		shortfall := limit - len(ranked)
		candidates, err := s.guardedSearch(ctx, ProviderOFF, s.offClient, query, shortfall)
		if err != nil {
			if !s.swallowProviderError(opts, ProviderOFF, err) {
				return nil, err
			}
		} else {
			upserted, err := s.upsertExternal(ctx, candidates)
			if err != nil {
				return nil, err
			}
			working = append(working, upserted...)
			ranked = MergeAndRank(working, limit, query)
		}
	}

	return ranked, nil
}

// GetByBarcode はバーコードで最も適合する1件を取得する。
//
//  1. キャッシュ完全一致が新鮮ならプロバイダを呼ばずに返す。
//  2. 内部専用モードでは鮮度切れ行またはfallbackNameの内部検索で応答する。
//  3. OFFのバーコードエンドポイントをガード付きで照会し、ヒットすればUPSERTして返す。
//  4. ヒットせずfallbackNameがあれば内部検索へフォールバックする。
//  5. 最後の手段としてUSDAをガード付きで照会する。
//  6. 何もヒットしなければ鮮度切れ行またはnilを返す。
//
// 一方のプロバイダの停止が他方の結果やキャッシュフォールバックを妨げないよう、
// プロバイダ呼び出しは個別にガードされる。
func (s *Service) GetByBarcode(ctx context.Context, ean string, fallbackName string, opts CallOptions) (*model.CatalogItem, error) {
	cached, err := s.repo.FindByBarcode(ctx, ean)
	if err != nil {
		return nil, fmt.Errorf("バーコードの照会に失敗しました: %w", err)
	}

	if cached != nil && cached.IsFresh(s.now(), s.cfg.TTL) {
		s.collector.RecordBarcodeLookup(metrics.BarcodeHitFresh)
		return cached, nil
	}

	if s.internalOnly(opts) {
		if cached != nil {
			s.collector.RecordBarcodeLookup(metrics.BarcodeHitStale)
			return cached, nil
		}
		if fallbackName != "" {
			top, err := s.searchInternalTop(ctx, fallbackName)
			if err != nil {
				return nil, err
			}
			if top != nil {
				s.collector.RecordBarcodeLookup(metrics.BarcodeHitStale)
				return top, nil
			}
		}
		s.collector.RecordBarcodeLookup(metrics.BarcodeMiss)
		return nil, nil
	}

	if s.enableOFF(opts) {
		candidate, err := s.guardedBarcode(ctx, ProviderOFF, s.offClient, ean)
		if err != nil {
			if !s.swallowProviderError(opts, ProviderOFF, err) {
				return nil, err
			}
		} else if candidate != nil && candidate.ExternalID != "" {
			item, err := s.upsertSingle(ctx, *candidate)
			if err != nil {
				return nil, err
			}
			s.collector.RecordBarcodeLookup(metrics.BarcodeMiss)
			return item, nil
		}
	}

	if fallbackName != "" {
		top, err := s.searchInternalTop(ctx, fallbackName)
		if err != nil {
			return nil, err
		}
		if top != nil {
			s.collector.RecordBarcodeLookup(metrics.BarcodeHitStale)
			return top, nil
		}
	}

	if s.enableUSDA(opts) {
		candidate, err := s.guardedBarcode(ctx, ProviderUSDA, s.usda, ean)
		if err != nil {
			if !s.swallowProviderError(opts, ProviderUSDA, err) {
				return nil, err
			}
		} else if candidate != nil && candidate.ExternalID != "" {
			item, err := s.upsertSingle(ctx, *candidate)
			if err != nil {
				return nil, err
			}
			s.collector.RecordBarcodeLookup(metrics.BarcodeMiss)
			return item, nil
		}
	}

	if cached != nil {
		s.collector.RecordBarcodeLookup(metrics.BarcodeHitStale)
		return cached, nil
	}

	s.collector.RecordBarcodeLookup(metrics.BarcodeMiss)
	return nil, nil
}

// guardedSearch はプロバイダ検索をガード付きで実行し、メトリクスを記録する。
func (s *Service) guardedSearch(ctx context.Context, name string, p provider.Provider, query string, limit int) ([]model.Candidate, error) {
	start := time.Now()
	result, err := GuardedCall(ctx, s.guard, name, func(ctx context.Context) ([]model.Candidate, error) {
		return p.Search(ctx, query, limit)
	})
	s.collector.RecordProviderLatency(name, time.Since(start))
	s.collector.RecordProviderCall(name, outcomeOf(err))
	return result, err
}

// guardedBarcode はプロバイダのバーコード照会をガード付きで実行し、メトリクスを記録する。
func (s *Service) guardedBarcode(ctx context.Context, name string, p provider.Provider, ean string) (*model.Candidate, error) {
	start := time.Now()
	result, err := GuardedCall(ctx, s.guard, name, func(ctx context.Context) (*model.Candidate, error) {
		return p.Barcode(ctx, ean)
	})
	s.collector.RecordProviderLatency(name, time.Since(start))
	s.collector.RecordProviderCall(name, outcomeOf(err))
	return result, err
}

// upsertExternal は外部IDを持つ候補のみをUPSERTし、永続化済みの行を返す。
// 外部IDのない候補は冪等なUPSERTキーを構成できないため破棄する。
func (s *Service) upsertExternal(ctx context.Context, candidates []model.Candidate) ([]*model.CatalogItem, error) {
	accepted := make([]model.Candidate, 0, len(candidates))
	for _, candidate := range candidates {
		if candidate.ExternalID == "" {
			s.logger.Warn("外部IDのない候補を破棄しました",
				slog.String("source", string(candidate.Source)),
				slog.String("name", candidate.Name),
			)
			continue
		}
		accepted = append(accepted, candidate)
	}

	if len(accepted) == 0 {
		return nil, nil
	}

	items, err := s.repo.UpsertCandidates(ctx, accepted)
	if err != nil {
		return nil, fmt.Errorf("候補のUPSERTに失敗しました: %w", err)
	}

	counts := make(map[model.FoodSource]int)
	for _, item := range items {
		counts[item.Source]++
	}
	for source, count := range counts {
		s.collector.RecordItemsUpserted(string(source), count)
	}

	return items, nil
}

// upsertSingle は候補1件をUPSERTし、永続化済みの行を返す。
func (s *Service) upsertSingle(ctx context.Context, candidate model.Candidate) (*model.CatalogItem, error) {
	items, err := s.upsertExternal(ctx, []model.Candidate{candidate})
	if err != nil {
		return nil, err
	}
	if len(items) == 0 {
		return nil, nil
	}
	return items[0], nil
}

// searchInternalTop は内部データのみを対象とした名前検索の最上位1件を返す。
func (s *Service) searchInternalTop(ctx context.Context, query string) (*model.CatalogItem, error) {
	items, err := s.repo.SearchByName(ctx, query, model.SourceInternal, 1)
	if err != nil {
		return nil, fmt.Errorf("内部データの検索に失敗しました: %w", err)
	}
	ranked := MergeAndRank(items, 1, query)
	if len(ranked) == 0 {
		return nil, nil
	}
	return ranked[0], nil
}

// swallowProviderError はプロバイダ利用不可エラーを握りつぶすべきかを判定する。
// 握りつぶす場合は警告ログを出して真を返す。それ以外のエラーは常に伝播する。
func (s *Service) swallowProviderError(opts CallOptions, name string, err error) bool {
	if !IsProviderUnavailable(err) {
		return false
	}
	if !s.cacheOnlyOnProviderDown(opts) {
		return false
	}
	s.logger.Warn("プロバイダが利用できないためキャッシュのみで応答します",
		slog.String("provider", name),
		slog.String("error", err.Error()),
	)
	return true
}

// outcomeOf はガード付き呼び出しの結果をメトリクスラベルに変換する。
func outcomeOf(err error) string {
	if err == nil {
		return metrics.OutcomeSuccess
	}
	var unavailable *ProviderUnavailableError
	if errors.As(err, &unavailable) {
		switch unavailable.Code {
		case GuardRateLimited:
			return metrics.OutcomeRateLimited
		case GuardCircuitOpen:
			return metrics.OutcomeCircuitOpen
		}
	}
	return metrics.OutcomeFailed
}

// countBySource は指定ソースの行数を数える。
func countBySource(items []*model.CatalogItem, source model.FoodSource) int {
	count := 0
	for _, item := range items {
		if item.Source == source {
			count++
		}
	}
	return count
}

func (s *Service) internalOnly(opts CallOptions) bool {
	if opts.InternalOnly != nil {
		return *opts.InternalOnly
	}
	return s.cfg.InternalOnly
}

func (s *Service) enableOFF(opts CallOptions) bool {
	if opts.EnableOFF != nil {
		return *opts.EnableOFF
	}
	return s.cfg.EnableOFF
}

func (s *Service) enableUSDA(opts CallOptions) bool {
	if opts.EnableUSDA != nil {
		return *opts.EnableUSDA
	}
	return s.cfg.EnableUSDA
}

func (s *Service) cacheOnlyOnProviderDown(opts CallOptions) bool {
	if opts.CacheOnlyOnProviderDown != nil {
		return *opts.CacheOnlyOnProviderDown
	}
	return s.cfg.CacheOnlyOnProviderDown
}

// compile-time interface check
var _ CatalogService = (*Service)(nil)
