package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/hitoshi/nutriman/internal/model"
)

// foodItemColumns はfood_db_itemsテーブルのSELECT対象カラム。
const foodItemColumns = `id, source, external_id, barcode, name, brand, serving_size_g,
	       kcal_per_100g, protein_per_100g, fat_per_100g, carbs_per_100g, fiber_per_100g,
	       quality, is_estimate, synonyms, internal_slug, last_fetched_at, created_at, updated_at`

// PostgresFoodRepo はPostgreSQLを使用した食品カタログリポジトリ。
type PostgresFoodRepo struct {
	db *sql.DB
}

// NewPostgresFoodRepo はPostgresFoodRepoを生成する。
func NewPostgresFoodRepo(db *sql.DB) *PostgresFoodRepo {
	return &PostgresFoodRepo{db: db}
}

// SearchByName は名前の部分一致またはシノニム一致で食品を検索する。
// シノニムは正規化済みキーのJSONB配列として保存されており、
// 正規化したクエリとの完全一致で照合する。
func (r *PostgresFoodRepo) SearchByName(
	ctx context.Context,
	query string,
	source model.FoodSource,
	limit int,
) ([]*model.CatalogItem, error) {
	normalized := model.NormalizeNameKey(query)

	rows, err := r.db.QueryContext(ctx,
		`SELECT `+foodItemColumns+`
		 FROM food_db_items
		 WHERE ($1 = '' OR source = $1)
		   AND (name ILIKE '%' || $2 || '%'
		        OR ($3 <> '' AND synonyms @> to_jsonb($3::text)))
		 ORDER BY updated_at DESC
		 LIMIT $4`,
		string(source), query, normalized, limit*2,
	)
	if err != nil {
		return nil, fmt.Errorf("食品の名前検索に失敗しました: %w", err)
	}
	defer rows.Close()

	var items []*model.CatalogItem
	for rows.Next() {
		item, scanErr := scanFoodItem(rows)
		if scanErr != nil {
			return nil, fmt.Errorf("食品行の読み取りに失敗しました: %w", scanErr)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("食品一覧の走査に失敗しました: %w", err)
	}

	return items, nil
}

// FindByBarcode はバーコード完全一致で最も関連性の高い1行を返す。
// 同一バーコードを複数行が持つ場合、INTERNAL行を優先し、
// 次にupdated_atが新しい行を選ぶ。見つからない場合はnilを返す。
func (r *PostgresFoodRepo) FindByBarcode(ctx context.Context, ean string) (*model.CatalogItem, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+foodItemColumns+`
		 FROM food_db_items
		 WHERE barcode = $1
		 ORDER BY (source = 'INTERNAL') DESC, updated_at DESC
		 LIMIT 1`,
		ean,
	)

	item, err := scanFoodItem(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("バーコードによる食品の検索に失敗しました: %w", err)
	}

	return item, nil
}

// UpsertCandidates は候補を (source, external_id) キーで冪等にUPSERTする。
// 既存行では栄養素・品質・last_fetched_atを上書きし、
// synonymsとinternal_slugは挿入時のみ設定する（内部シード専用フィールドのため）。
func (r *PostgresFoodRepo) UpsertCandidates(
	ctx context.Context,
	candidates []model.Candidate,
) ([]*model.CatalogItem, error) {
	if len(candidates) == 0 {
		return nil, nil
	}

	now := time.Now()
	items := make([]*model.CatalogItem, 0, len(candidates))

	for _, c := range candidates {
		lastFetchedAt := c.LastFetchedAt
		if lastFetchedAt == nil && c.Source != model.SourceInternal {
			lastFetchedAt = &now
		}

		var synonymsJSON []byte
		if len(c.Synonyms) > 0 {
			encoded, err := json.Marshal(c.Synonyms)
			if err != nil {
				return nil, fmt.Errorf("シノニムのエンコードに失敗しました: %w", err)
			}
			synonymsJSON = encoded
		}

		row := r.db.QueryRowContext(ctx,
			`INSERT INTO food_db_items (
			     id, source, external_id, barcode, name, brand, serving_size_g,
			     kcal_per_100g, protein_per_100g, fat_per_100g, carbs_per_100g, fiber_per_100g,
			     quality, is_estimate, synonyms, internal_slug, last_fetched_at, created_at, updated_at
			 )
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, now(), now())
			 ON CONFLICT (source, external_id) DO UPDATE SET
			     barcode = EXCLUDED.barcode,
			     name = EXCLUDED.name,
			     brand = EXCLUDED.brand,
			     serving_size_g = EXCLUDED.serving_size_g,
			     kcal_per_100g = EXCLUDED.kcal_per_100g,
			     protein_per_100g = EXCLUDED.protein_per_100g,
			     fat_per_100g = EXCLUDED.fat_per_100g,
			     carbs_per_100g = EXCLUDED.carbs_per_100g,
			     fiber_per_100g = EXCLUDED.fiber_per_100g,
			     quality = EXCLUDED.quality,
			     is_estimate = EXCLUDED.is_estimate,
			     last_fetched_at = EXCLUDED.last_fetched_at,
			     updated_at = now()
			 RETURNING `+foodItemColumns,
			uuid.NewString(), string(c.Source), nullString(c.ExternalID),
			nullStringPtr(c.Barcode), c.Name, nullStringPtr(c.Brand),
			nullFloatPtr(c.ServingSizeG),
			c.KcalPer100g, c.ProteinPer100g, c.FatPer100g, c.CarbsPer100g,
			nullFloatPtr(c.FiberPer100g),
			string(c.Quality), c.IsEstimate, synonymsJSON, nullStringPtr(c.InternalSlug),
			lastFetchedAt,
		)

		item, err := scanFoodItem(row)
		if err != nil {
			return nil, fmt.Errorf("食品のUPSERTに失敗しました: %w", err)
		}
		items = append(items, item)
	}

	return items, nil
}

// CountBySource は指定ソースの行数を返す。
func (r *PostgresFoodRepo) CountBySource(ctx context.Context, source model.FoodSource) (int, error) {
	var count int
	err := r.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM food_db_items WHERE source = $1`,
		string(source),
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("ソース別件数の取得に失敗しました: %w", err)
	}
	return count, nil
}

// rowScanner はsql.Rowとsql.Rowsの共通Scanインターフェース。
type rowScanner interface {
	Scan(dest ...interface{}) error
}

// scanFoodItem は1行をCatalogItemに読み取る。
func scanFoodItem(row rowScanner) (*model.CatalogItem, error) {
	item := &model.CatalogItem{}
	var externalID, barcode, brand, internalSlug sql.NullString
	var servingSizeG, fiberPer100g sql.NullFloat64
	var lastFetchedAt sql.NullTime
	var synonymsJSON []byte
	var source, quality string

	err := row.Scan(
		&item.ID, &source, &externalID, &barcode, &item.Name, &brand, &servingSizeG,
		&item.KcalPer100g, &item.ProteinPer100g, &item.FatPer100g, &item.CarbsPer100g, &fiberPer100g,
		&quality, &item.IsEstimate, &synonymsJSON, &internalSlug, &lastFetchedAt,
		&item.CreatedAt, &item.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	item.Source = model.FoodSource(source)
	item.Quality = model.FoodQuality(quality)
	item.ExternalID = nullStringValue(externalID)
	item.Barcode = nullStringValue(barcode)
	item.Brand = nullStringValue(brand)
	item.InternalSlug = nullStringValue(internalSlug)
	item.ServingSizeG = nullFloatValue(servingSizeG)
	item.FiberPer100g = nullFloatValue(fiberPer100g)
	if lastFetchedAt.Valid {
		t := lastFetchedAt.Time
		item.LastFetchedAt = &t
	}
	if len(synonymsJSON) > 0 {
		if err := json.Unmarshal(synonymsJSON, &item.Synonyms); err != nil {
			return nil, fmt.Errorf("シノニムのデコードに失敗しました: %w", err)
		}
	}

	return item, nil
}

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

func nullStringPtr(s *string) sql.NullString {
	if s == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *s, Valid: true}
}

func nullFloatPtr(f *float64) sql.NullFloat64 {
	if f == nil {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: *f, Valid: true}
}

func nullStringValue(ns sql.NullString) *string {
	if !ns.Valid {
		return nil
	}
	s := ns.String
	return &s
}

func nullFloatValue(nf sql.NullFloat64) *float64 {
	if !nf.Valid {
		return nil
	}
	f := nf.Float64
	return &f
}

// compile-time interface check
var _ FoodItemRepository = (*PostgresFoodRepo)(nil)
