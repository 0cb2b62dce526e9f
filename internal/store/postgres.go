// Package store persists products and their computed scores in PostgreSQL.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	json "github.com/goccy/go-json"
	"github.com/lib/pq"

	"github.com/onnwee/ecoscore/internal/product"
	"github.com/onnwee/ecoscore/internal/ranking"
	"github.com/onnwee/ecoscore/internal/tracing"
)

// PostgreSQL error codes inspected by the store.
const (
	codeForeignKeyViolation = "23503"
	codeCheckViolation      = "23514"
)

var (
	// ErrUnknownProduct is returned when scores reference a product that
	// is not stored.
	ErrUnknownProduct = errors.New("unknown product")

	// ErrInvalidScore is returned when a score row violates a schema constraint.
	ErrInvalidScore = errors.New("invalid score row")
)

// scoreDetail is the JSONB detail column of product_scores.
type scoreDetail struct {
	Absolute   *product.Measure   `json:"absolute,omitempty"`
	Relative   *product.Measure   `json:"relative,omitempty"`
	Aggregates map[string]float64 `json:"aggregates,omitempty"`
	Metadata   map[string]string  `json:"metadata,omitempty"`
	Ranking    *product.RankInfo  `json:"ranking,omitempty"`
}

// PostgresStore implements the recompute ProductSource, ChangeFeed and
// ScoreStore on the products and product_scores tables.
type PostgresStore struct {
	db           *sql.DB
	logger       *slog.Logger
	productStats *UpsertStats
	scoreStats   *UpsertStats
}

// NewPostgresStore creates a store on db.
func NewPostgresStore(db *sql.DB, logger *slog.Logger) *PostgresStore {
	if logger == nil {
		logger = slog.Default()
	}
	return &PostgresStore{
		db:           db,
		logger:       logger,
		productStats: NewUpsertStats(),
		scoreStats:   NewUpsertStats(),
	}
}

// ProductStats returns the cumulative upsert counters of products.
func (s *PostgresStore) ProductStats() *UpsertStats { return s.productStats }

// ScoreStats returns the cumulative upsert counters of product_scores.
func (s *PostgresStore) ScoreStats() *UpsertStats { return s.scoreStats }

// LoadProducts returns the active products of a vertical ordered by id.
func (s *PostgresStore) LoadProducts(ctx context.Context, vertical string) (_ []*product.Product, err error) {
	ctx, endSpan := tracing.StartDBSpan(ctx, "products", tracing.DBOperationQuery)
	defer func() { endSpan(err) }()

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, brand, attributes
		FROM products
		WHERE vertical = $1 AND deleted_at IS NULL
		ORDER BY id`, vertical)
	if err != nil {
		return nil, fmt.Errorf("failed to query products: %w", err)
	}
	defer rows.Close()

	var products []*product.Product
	for rows.Next() {
		var (
			id, brand string
			raw       []byte
		)
		if err := rows.Scan(&id, &brand, &raw); err != nil {
			return nil, fmt.Errorf("failed to scan product: %w", err)
		}
		p := product.New(id, vertical)
		p.Brand = brand
		if err := json.Unmarshal(raw, &p.Attributes); err != nil {
			return nil, fmt.Errorf("product %s: failed to decode attributes: %w", id, err)
		}
		products = append(products, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate products: %w", err)
	}
	return products, nil
}

// ChangedVerticals returns the verticals with products updated or deleted
// after since.
func (s *PostgresStore) ChangedVerticals(ctx context.Context, since time.Time) (_ []string, err error) {
	ctx, endSpan := tracing.StartDBSpan(ctx, "products", tracing.DBOperationQuery)
	defer func() { endSpan(err) }()

	rows, err := s.db.QueryContext(ctx,
		`SELECT DISTINCT vertical FROM products WHERE updated_at > $1 ORDER BY vertical`, since)
	if err != nil {
		return nil, fmt.Errorf("failed to query changed verticals: %w", err)
	}
	defer rows.Close()

	var verticals []string
	for rows.Next() {
		var v string
		if err := rows.Scan(&v); err != nil {
			return nil, fmt.Errorf("failed to scan vertical: %w", err)
		}
		verticals = append(verticals, v)
	}
	return verticals, rows.Err()
}

// UpsertProducts inserts or updates products and revives deleted ones.
func (s *PostgresStore) UpsertProducts(ctx context.Context, products []*product.Product) (err error) {
	ctx, endSpan := tracing.StartDBSpan(ctx, "products", tracing.DBOperationInsert)
	defer func() { endSpan(err) }()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO products (vertical, id, brand, attributes)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (vertical, id) DO UPDATE SET
			brand = EXCLUDED.brand,
			attributes = EXCLUDED.attributes,
			updated_at = NOW(),
			deleted_at = NULL
		RETURNING (xmax = 0) AS inserted`)
	if err != nil {
		return fmt.Errorf("failed to prepare product upsert: %w", err)
	}
	defer stmt.Close()

	inserted := make([]bool, 0, len(products))
	for _, p := range products {
		attrs, err := json.Marshal(p.Attributes)
		if err != nil {
			return fmt.Errorf("product %s: failed to encode attributes: %w", p.ID, err)
		}
		var isNew bool
		if err := stmt.QueryRowContext(ctx, p.Vertical, p.ID, p.Brand, attrs).Scan(&isNew); err != nil {
			return fmt.Errorf("product %s: failed to upsert: %w", p.ID, err)
		}
		inserted = append(inserted, isNew)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit products: %w", err)
	}
	for _, isNew := range inserted {
		s.productStats.Record(isNew)
	}
	return nil
}

// DeleteProducts soft-deletes products of a vertical.
func (s *PostgresStore) DeleteProducts(ctx context.Context, vertical string, ids []string) (n int64, err error) {
	ctx, endSpan := tracing.StartDBSpan(ctx, "products", tracing.DBOperationUpdate)
	defer func() { endSpan(err) }()

	result, err := s.db.ExecContext(ctx, `
		UPDATE products SET deleted_at = NOW(), updated_at = NOW()
		WHERE vertical = $1 AND id = ANY($2) AND deleted_at IS NULL`,
		vertical, pq.Array(ids))
	if err != nil {
		return 0, fmt.Errorf("failed to delete products: %w", err)
	}
	return result.RowsAffected()
}

// PurgeDeleted removes the products soft-deleted before the cutoff. Their
// score rows go with them through the foreign key cascade.
func (s *PostgresStore) PurgeDeleted(ctx context.Context, before time.Time) (n int64, err error) {
	ctx, endSpan := tracing.StartDBSpan(ctx, "products", tracing.DBOperationDelete)
	defer func() { endSpan(err) }()

	result, err := s.db.ExecContext(ctx,
		`DELETE FROM products WHERE deleted_at IS NOT NULL AND deleted_at < $1`, before)
	if err != nil {
		return 0, fmt.Errorf("failed to purge deleted products: %w", err)
	}
	n, err = result.RowsAffected()
	if err != nil {
		return 0, err
	}
	s.productStats.RecordPruned(n)
	return n, nil
}

// SaveScores replaces the stored scores of a vertical with the scores of
// run runID in one transaction. Rows of earlier runs that the run no longer
// produced are pruned.
func (s *PostgresStore) SaveScores(ctx context.Context, vertical, runID string, products []*product.Product) (err error) {
	ctx, endSpan := tracing.StartDBSpan(ctx, "product_scores", tracing.DBOperationInsert)
	defer func() { endSpan(err) }()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO product_scores (
			vertical, product_id, score_name, value, absolute_value, relative_value,
			virtual, rank_position, rank_count, detail, run_id, computed_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, NOW())
		ON CONFLICT (vertical, product_id, score_name) DO UPDATE SET
			value = EXCLUDED.value,
			absolute_value = EXCLUDED.absolute_value,
			relative_value = EXCLUDED.relative_value,
			virtual = EXCLUDED.virtual,
			rank_position = EXCLUDED.rank_position,
			rank_count = EXCLUDED.rank_count,
			detail = EXCLUDED.detail,
			run_id = EXCLUDED.run_id,
			computed_at = EXCLUDED.computed_at
		RETURNING (xmax = 0) AS inserted`)
	if err != nil {
		return fmt.Errorf("failed to prepare score upsert: %w", err)
	}
	defer stmt.Close()

	inserted := make([]bool, 0, len(products))
	for _, p := range products {
		for _, name := range p.ScoreNames() {
			sc := p.Score(name)
			args, err := scoreArgs(vertical, runID, p.ID, sc)
			if err != nil {
				return err
			}
			var isNew bool
			if err := stmt.QueryRowContext(ctx, args...).Scan(&isNew); err != nil {
				return classify(fmt.Errorf("product %s score %s: %w", p.ID, name, err))
			}
			inserted = append(inserted, isNew)
		}
	}

	result, err := tx.ExecContext(ctx,
		`DELETE FROM product_scores WHERE vertical = $1 AND run_id <> $2`, vertical, runID)
	if err != nil {
		return fmt.Errorf("failed to prune stale scores: %w", err)
	}
	pruned, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit scores: %w", err)
	}

	for _, isNew := range inserted {
		s.scoreStats.Record(isNew)
	}
	s.scoreStats.RecordPruned(pruned)
	s.logger.Debug("scores saved",
		"vertical", vertical,
		"run_id", runID,
		"rows", len(inserted),
		"pruned", pruned)
	return nil
}

func scoreArgs(vertical, runID, productID string, sc *product.Score) ([]any, error) {
	detail, err := json.Marshal(scoreDetail{
		Absolute:   sc.Absolute,
		Relative:   sc.Relative,
		Aggregates: sc.Aggregates,
		Metadata:   sc.Metadata,
		Ranking:    sc.Ranking,
	})
	if err != nil {
		return nil, fmt.Errorf("product %s score %s: failed to encode detail: %w", productID, sc.Name, err)
	}

	var relative, position, count any
	if sc.Relative != nil {
		relative = sc.Relative.Value
	}
	if sc.Ranking != nil {
		position = sc.Ranking.Position
		count = sc.Ranking.GlobalCount
	}

	return []any{
		vertical, productID, sc.Name, sc.Value, sc.AbsoluteValue(), relative,
		sc.Virtual, position, count, detail, runID,
	}, nil
}

// classify maps constraint violations to the store's errors.
func classify(err error) error {
	var pqErr *pq.Error
	if !errors.As(err, &pqErr) {
		return err
	}
	switch pqErr.Code {
	case codeForeignKeyViolation:
		return fmt.Errorf("%w: %w", ErrUnknownProduct, err)
	case codeCheckViolation:
		return fmt.Errorf("%w: %w", ErrInvalidScore, err)
	}
	return err
}

// Scores returns the stored scores of products, keyed by product id.
func (s *PostgresStore) Scores(ctx context.Context, vertical string, productIDs []string) (_ map[string][]*product.Score, err error) {
	ctx, endSpan := tracing.StartDBSpan(ctx, "product_scores", tracing.DBOperationQuery)
	defer func() { endSpan(err) }()

	rows, err := s.db.QueryContext(ctx, `
		SELECT product_id, score_name, value, virtual, detail
		FROM product_scores
		WHERE vertical = $1 AND product_id = ANY($2)
		ORDER BY product_id, score_name`,
		vertical, pq.Array(productIDs))
	if err != nil {
		return nil, fmt.Errorf("failed to query scores: %w", err)
	}
	defer rows.Close()

	scores := make(map[string][]*product.Score)
	for rows.Next() {
		var (
			productID string
			sc        product.Score
			raw       []byte
			detail    scoreDetail
		)
		if err := rows.Scan(&productID, &sc.Name, &sc.Value, &sc.Virtual, &raw); err != nil {
			return nil, fmt.Errorf("failed to scan score: %w", err)
		}
		if err := json.Unmarshal(raw, &detail); err != nil {
			return nil, fmt.Errorf("product %s score %s: failed to decode detail: %w", productID, sc.Name, err)
		}
		sc.Absolute = detail.Absolute
		sc.Relative = detail.Relative
		sc.Aggregates = detail.Aggregates
		sc.Metadata = detail.Metadata
		sc.Ranking = detail.Ranking
		scores[productID] = append(scores[productID], &sc)
	}
	return scores, rows.Err()
}

// Ranking rebuilds the snapshot of a score from the stored rows, best
// first. A non-positive limit returns every ranked product.
func (s *PostgresStore) Ranking(ctx context.Context, vertical, score string, limit int) (_ ranking.Snapshot, err error) {
	ctx, endSpan := tracing.StartDBSpan(ctx, "product_scores", tracing.DBOperationQuery)
	defer func() { endSpan(err) }()

	var lim any
	if limit > 0 {
		lim = limit
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT ps.product_id, p.brand, ps.value, ps.absolute_value, ps.virtual, ps.run_id, ps.computed_at
		FROM product_scores ps
		JOIN products p ON p.vertical = ps.vertical AND p.id = ps.product_id
		WHERE ps.vertical = $1 AND ps.score_name = $2 AND ps.rank_position IS NOT NULL
		ORDER BY ps.rank_position DESC
		LIMIT $3`,
		vertical, score, lim)
	if err != nil {
		return ranking.Snapshot{}, fmt.Errorf("failed to query ranking: %w", err)
	}
	defer rows.Close()

	snap := ranking.Snapshot{Vertical: vertical, Score: score}
	for rows.Next() {
		var (
			e          ranking.Entry
			runID      string
			computedAt time.Time
		)
		if err := rows.Scan(&e.ProductID, &e.Brand, &e.Value, &e.Absolute, &e.Virtual, &runID, &computedAt); err != nil {
			return ranking.Snapshot{}, fmt.Errorf("failed to scan ranking entry: %w", err)
		}
		e.Rank = len(snap.Entries) + 1
		snap.Entries = append(snap.Entries, e)
		snap.RunID = runID
		if computedAt.After(snap.GeneratedAt) {
			snap.GeneratedAt = computedAt.UTC()
		}
	}
	return snap, rows.Err()
}
