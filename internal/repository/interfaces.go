// Package repository はデータ永続化のインターフェースを定義する。
package repository

import (
	"context"

	"github.com/hitoshi/nutriman/internal/model"
)

// FoodItemRepository は食品カタログの鮮度キャッシュストアのインターフェース。
// 集約オーケストレータから利用される。
type FoodItemRepository interface {
	// SearchByName は名前の部分一致またはシノニム一致で食品を検索する。
	// sourceが空文字列でない場合はそのソースに限定する。
	// updated_at降順で最大 2*limit 件を返す。
	SearchByName(ctx context.Context, query string, source model.FoodSource, limit int) ([]*model.CatalogItem, error)

	// FindByBarcode はバーコード完全一致で最も関連性の高い1行を返す。
	// INTERNAL行を優先し、次にupdated_atが新しい行を選ぶ。
	// 見つからない場合はnilを返す。
	FindByBarcode(ctx context.Context, ean string) (*model.CatalogItem, error)

	// UpsertCandidates は候補を (source, external_id) キーで冪等にUPSERTする。
	// 既存行は栄養素フィールドとlast_fetched_atを更新し、新規行は挿入する。
	// 永続化後の行を入力と同じ順序で返す。
	UpsertCandidates(ctx context.Context, candidates []model.Candidate) ([]*model.CatalogItem, error)

	// CountBySource は指定ソースの行数を返す。シードの冪等性確認用。
	CountBySource(ctx context.Context, source model.FoodSource) (int, error)
}
