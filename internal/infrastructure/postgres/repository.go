package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/recallstack/recall-server/internal/domain/classifier"
	"github.com/recallstack/recall-server/internal/domain/memory"
)

// Repository implements memory.Repository on PostgreSQL with pgvector.
// Partition counters live in partition_counters and change in the same
// transaction as the item writes they count.
type Repository struct {
	db *pgxpool.Pool
}

func NewRepository(db *pgxpool.Pool) *Repository {
	return &Repository{db: db}
}

// Helper function to convert []float32 to pgvector format string
func embeddingToString(embedding []float32) string {
	if len(embedding) == 0 {
		return "[]"
	}

	parts := make([]string, len(embedding))
	for i, val := range embedding {
		parts[i] = fmt.Sprintf("%f", val)
	}
	return "[" + strings.Join(parts, ",") + "]"
}

// embeddingParam returns the value bound to a ::vector placeholder, NULL when
// the item has no embedding yet.
func embeddingParam(embedding []float32) interface{} {
	if embedding == nil {
		return nil
	}
	return embeddingToString(embedding)
}

const itemColumns = `id, user_id, content, category, tier, metadata,
	access_count, window_start, window_count,
	created_at, last_accessed_at, updated_at`

func scanItem(row pgx.Row) (*memory.Item, error) {
	var item memory.Item
	var metadata []byte
	err := row.Scan(
		&item.ID, &item.UserID, &item.Content, &item.Category, &item.Tier, &metadata,
		&item.AccessCount, &item.WindowStart, &item.WindowCount,
		&item.CreatedAt, &item.LastAccessedAt, &item.UpdatedAt,
	)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, memory.ErrNotFound
		}
		return nil, err
	}
	if len(metadata) > 0 {
		if err := json.Unmarshal(metadata, &item.Metadata); err != nil {
			return nil, fmt.Errorf("decode metadata: %w", err)
		}
	}
	return &item, nil
}

func scanItems(rows pgx.Rows) ([]memory.Item, error) {
	defer rows.Close()

	var items []memory.Item
	for rows.Next() {
		item, err := scanItem(rows)
		if err != nil {
			return nil, fmt.Errorf("scan memory item: %w", err)
		}
		items = append(items, *item)
	}
	return items, rows.Err()
}

func metadataParam(metadata map[string]string) (interface{}, error) {
	if metadata == nil {
		return nil, nil
	}
	data, err := json.Marshal(metadata)
	if err != nil {
		return nil, fmt.Errorf("encode metadata: %w", err)
	}
	return data, nil
}

func categoryNames(categories []classifier.Category) []string {
	if categories == nil {
		return nil
	}
	names := make([]string, len(categories))
	for i, c := range categories {
		names[i] = string(c)
	}
	return names
}

func (r *Repository) Upsert(ctx context.Context, item *memory.Item) (string, error) {
	now := time.Now()
	if item.CreatedAt.IsZero() {
		item.CreatedAt = now
	}
	if item.LastAccessedAt.IsZero() {
		item.LastAccessedAt = now
	}
	if item.WindowStart.IsZero() {
		item.WindowStart = now
	}
	item.UpdatedAt = now

	metadata, err := metadataParam(item.Metadata)
	if err != nil {
		return "", err
	}

	tx, err := r.db.Begin(ctx)
	if err != nil {
		return "", fmt.Errorf("begin upsert: %w", err)
	}
	defer tx.Rollback(ctx)

	// Lock the previous version so the counter adjustment below is exact.
	var prevCategory, prevTier string
	var prevDeleted bool
	existed := true
	err = tx.QueryRow(ctx,
		`SELECT category, tier, is_deleted FROM memory_items WHERE id = $1 FOR UPDATE`,
		item.ID,
	).Scan(&prevCategory, &prevTier, &prevDeleted)
	if err == pgx.ErrNoRows {
		existed = false
	} else if err != nil {
		return "", fmt.Errorf("lock previous item: %w", err)
	}

	_, err = tx.Exec(ctx, `
		INSERT INTO memory_items (
			id, user_id, content, category, tier, embedding, metadata,
			access_count, window_start, window_count,
			is_deleted, created_at, last_accessed_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6::vector, $7, $8, $9, $10, false, $11, $12, $13)
		ON CONFLICT (id) DO UPDATE SET
			content = EXCLUDED.content,
			category = EXCLUDED.category,
			tier = EXCLUDED.tier,
			embedding = EXCLUDED.embedding,
			metadata = EXCLUDED.metadata,
			is_deleted = false,
			updated_at = EXCLUDED.updated_at
	`,
		item.ID, item.UserID, item.Content, string(item.Category), string(item.Tier),
		embeddingParam(item.Embedding), metadata,
		item.AccessCount, item.WindowStart, item.WindowCount,
		item.CreatedAt, item.LastAccessedAt, item.UpdatedAt,
	)
	if err != nil {
		return "", fmt.Errorf("upsert memory item: %w", err)
	}

	if existed && !prevDeleted {
		if prevCategory != string(item.Category) || prevTier != string(item.Tier) {
			if err := adjustCounter(ctx, tx, item.UserID, prevCategory, prevTier, -1); err != nil {
				return "", err
			}
			if err := adjustCounter(ctx, tx, item.UserID, string(item.Category), string(item.Tier), 1); err != nil {
				return "", err
			}
		}
	} else {
		if err := adjustCounter(ctx, tx, item.UserID, string(item.Category), string(item.Tier), 1); err != nil {
			return "", err
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return "", fmt.Errorf("commit upsert: %w", err)
	}
	return item.ID, nil
}

func adjustCounter(ctx context.Context, tx pgx.Tx, userID, category, tier string, delta int) error {
	_, err := tx.Exec(ctx, `
		INSERT INTO partition_counters (user_id, category, tier, count)
		VALUES ($1, $2, $3, GREATEST($4, 0))
		ON CONFLICT (user_id, category, tier) DO UPDATE SET
			count = GREATEST(partition_counters.count + $4, 0)
	`, userID, category, tier, delta)
	if err != nil {
		return fmt.Errorf("adjust partition counter: %w", err)
	}
	return nil
}

func (r *Repository) Get(ctx context.Context, id string) (*memory.Item, error) {
	row := r.db.QueryRow(ctx, `
		SELECT `+itemColumns+`
		FROM memory_items
		WHERE id = $1 AND is_deleted = false
	`, id)
	return scanItem(row)
}

func (r *Repository) Delete(ctx context.Context, id string) error {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin delete: %w", err)
	}
	defer tx.Rollback(ctx)

	var userID, category, tier string
	err = tx.QueryRow(ctx, `
		UPDATE memory_items SET is_deleted = true, updated_at = $1
		WHERE id = $2 AND is_deleted = false
		RETURNING user_id, category, tier
	`, time.Now(), id).Scan(&userID, &category, &tier)
	if err == pgx.ErrNoRows {
		return memory.ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("delete memory item: %w", err)
	}

	if err := adjustCounter(ctx, tx, userID, category, tier, -1); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

func (r *Repository) Scan(ctx context.Context, userID string, categories []classifier.Category, tier *memory.Tier) ([]memory.Item, error) {
	query := `
		SELECT ` + itemColumns + `
		FROM memory_items
		WHERE user_id = $1 AND is_deleted = false
		  AND ($2::text[] IS NULL OR category = ANY($2))
		  AND ($3::text IS NULL OR tier = $3)
		ORDER BY updated_at DESC
	`

	var tierName *string
	if tier != nil {
		name := string(*tier)
		tierName = &name
	}

	rows, err := r.db.Query(ctx, query, userID, categoryNames(categories), tierName)
	if err != nil {
		return nil, fmt.Errorf("scan partition: %w", err)
	}
	return scanItems(rows)
}

func (r *Repository) SearchVector(ctx context.Context, userID string, categories []classifier.Category, embedding []float32, limit int, minSimilarity float32) ([]memory.Item, error) {
	query := `
		SELECT ` + itemColumns + `,
			1 - (embedding <=> $2::vector) AS similarity
		FROM memory_items
		WHERE user_id = $1 AND is_deleted = false
		  AND embedding IS NOT NULL
		  AND ($3::text[] IS NULL OR category = ANY($3))
		  AND 1 - (embedding <=> $2::vector) >= $4
		ORDER BY embedding <=> $2::vector
		LIMIT $5
	`

	rows, err := r.db.Query(ctx, query,
		userID, embeddingToString(embedding), categoryNames(categories), minSimilarity, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("vector search: %w", err)
	}
	defer rows.Close()

	var items []memory.Item
	for rows.Next() {
		var item memory.Item
		var metadata []byte
		err := rows.Scan(
			&item.ID, &item.UserID, &item.Content, &item.Category, &item.Tier, &metadata,
			&item.AccessCount, &item.WindowStart, &item.WindowCount,
			&item.CreatedAt, &item.LastAccessedAt, &item.UpdatedAt,
			&item.Similarity,
		)
		if err != nil {
			return nil, fmt.Errorf("scan vector result: %w", err)
		}
		if len(metadata) > 0 {
			if err := json.Unmarshal(metadata, &item.Metadata); err != nil {
				return nil, fmt.Errorf("decode metadata: %w", err)
			}
		}
		items = append(items, item)
	}
	return items, rows.Err()
}

func (r *Repository) SearchLexical(ctx context.Context, userID string, categories []classifier.Category, terms []string, limit int) ([]memory.Item, error) {
	if len(terms) == 0 {
		return nil, nil
	}

	patterns := make([]string, len(terms))
	for i, term := range terms {
		patterns[i] = "%" + escapeLike(term) + "%"
	}

	query := `
		SELECT ` + itemColumns + `
		FROM memory_items
		WHERE user_id = $1 AND is_deleted = false
		  AND ($2::text[] IS NULL OR category = ANY($2))
		  AND content ILIKE ANY($3)
		ORDER BY last_accessed_at DESC
		LIMIT $4
	`

	rows, err := r.db.Query(ctx, query, userID, categoryNames(categories), patterns, limit)
	if err != nil {
		return nil, fmt.Errorf("lexical search: %w", err)
	}
	return scanItems(rows)
}

func escapeLike(s string) string {
	s = strings.ReplaceAll(s, `\`, `\\`)
	s = strings.ReplaceAll(s, `%`, `\%`)
	s = strings.ReplaceAll(s, `_`, `\_`)
	return s
}

func (r *Repository) Touch(ctx context.Context, id string, window time.Duration) (*memory.Item, error) {
	// Access count and the sliding window advance in one update so concurrent
	// retrievals never lose a hit.
	row := r.db.QueryRow(ctx, `
		UPDATE memory_items SET
			access_count = access_count + 1,
			last_accessed_at = now(),
			window_count = CASE
				WHEN window_start < now() - ($2 * interval '1 second') THEN 1
				ELSE window_count + 1
			END,
			window_start = CASE
				WHEN window_start < now() - ($2 * interval '1 second') THEN now()
				ELSE window_start
			END
		WHERE id = $1 AND is_deleted = false
		RETURNING `+itemColumns+`
	`, id, window.Seconds())
	return scanItem(row)
}

func (r *Repository) SetTier(ctx context.Context, id string, tier memory.Tier) error {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tier change: %w", err)
	}
	defer tx.Rollback(ctx)

	var userID, category, prevTier string
	err = tx.QueryRow(ctx, `
		SELECT user_id, category, tier FROM memory_items
		WHERE id = $1 AND is_deleted = false
		FOR UPDATE
	`, id).Scan(&userID, &category, &prevTier)
	if err == pgx.ErrNoRows {
		return memory.ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("lock item: %w", err)
	}
	if prevTier == string(tier) {
		return nil
	}

	// The promotion window restarts in the new tier.
	_, err = tx.Exec(ctx, `
		UPDATE memory_items SET
			tier = $2,
			window_start = now(),
			window_count = 0,
			updated_at = now()
		WHERE id = $1
	`, id, string(tier))
	if err != nil {
		return fmt.Errorf("set tier: %w", err)
	}

	if err := adjustCounter(ctx, tx, userID, category, prevTier, -1); err != nil {
		return err
	}
	if err := adjustCounter(ctx, tx, userID, category, string(tier), 1); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

func (r *Repository) CountTier(ctx context.Context, userID string, category classifier.Category, tier memory.Tier) (int, error) {
	var count int
	err := r.db.QueryRow(ctx, `
		SELECT count FROM partition_counters
		WHERE user_id = $1 AND category = $2 AND tier = $3
	`, userID, string(category), string(tier)).Scan(&count)
	if err == pgx.ErrNoRows {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("count tier: %w", err)
	}
	return count, nil
}

func (r *Repository) OldestInTier(ctx context.Context, userID string, category classifier.Category, tier memory.Tier, limit int) ([]memory.Item, error) {
	rows, err := r.db.Query(ctx, `
		SELECT `+itemColumns+`
		FROM memory_items
		WHERE user_id = $1 AND category = $2 AND tier = $3 AND is_deleted = false
		ORDER BY last_accessed_at ASC
		LIMIT $4
	`, userID, string(category), string(tier), limit)
	if err != nil {
		return nil, fmt.Errorf("oldest in tier: %w", err)
	}
	return scanItems(rows)
}

func (r *Repository) Partitions(ctx context.Context) ([]memory.Partition, error) {
	rows, err := r.db.Query(ctx, `
		SELECT user_id, category, tier, count
		FROM partition_counters
		WHERE count > 0
	`)
	if err != nil {
		return nil, fmt.Errorf("list partitions: %w", err)
	}
	defer rows.Close()

	var partitions []memory.Partition
	for rows.Next() {
		var p memory.Partition
		var category, tier string
		if err := rows.Scan(&p.UserID, &category, &tier, &p.Count); err != nil {
			return nil, fmt.Errorf("scan partition: %w", err)
		}
		p.Category = classifier.Category(category)
		p.Tier = memory.Tier(tier)
		partitions = append(partitions, p)
	}
	return partitions, rows.Err()
}

func (r *Repository) MissingEmbeddings(ctx context.Context, limit int) ([]memory.Item, error) {
	rows, err := r.db.Query(ctx, `
		SELECT `+itemColumns+`
		FROM memory_items
		WHERE embedding IS NULL AND is_deleted = false
		ORDER BY created_at ASC
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("list missing embeddings: %w", err)
	}
	return scanItems(rows)
}

func (r *Repository) SetEmbedding(ctx context.Context, id string, embedding []float32) error {
	result, err := r.db.Exec(ctx, `
		UPDATE memory_items SET embedding = $2::vector, updated_at = now()
		WHERE id = $1 AND is_deleted = false
	`, id, embeddingToString(embedding))
	if err != nil {
		return fmt.Errorf("set embedding: %w", err)
	}
	if result.RowsAffected() == 0 {
		return memory.ErrNotFound
	}
	return nil
}

func (r *Repository) Stats(ctx context.Context, userID string) (*memory.Statistics, error) {
	rows, err := r.db.Query(ctx, `
		SELECT category, tier, count(*)
		FROM memory_items
		WHERE user_id = $1 AND is_deleted = false
		GROUP BY category, tier
	`, userID)
	if err != nil {
		return nil, fmt.Errorf("query stats: %w", err)
	}
	defer rows.Close()

	stats := &memory.Statistics{
		UserID:     userID,
		ByCategory: make(map[string]int),
		ByTier:     make(map[string]int),
	}
	for rows.Next() {
		var category, tier string
		var count int
		if err := rows.Scan(&category, &tier, &count); err != nil {
			return nil, fmt.Errorf("scan stats: %w", err)
		}
		stats.Total += count
		stats.ByCategory[category] += count
		stats.ByTier[tier] += count
	}
	return stats, rows.Err()
}
