package index

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/lib/pq"
	"github.com/pgvector/pgvector-go"

	"TrialSync/internal/domain"
	"TrialSync/internal/ports"
)

const defaultDimensions = 1536

// PgvectorIndex stores per-trial document collections in Postgres with
// pgvector embeddings.
type PgvectorIndex struct {
	db       *sql.DB
	embedder ports.Embedder
	dims     int
	logger   *slog.Logger
	builder  sq.StatementBuilderType

	ready    sync.Once
	readyErr error
}

var _ ports.SemanticIndex = (*PgvectorIndex)(nil)

// NewPgvectorIndex wires a sql.DB and an embedder; dims sets the vector
// column width.
func NewPgvectorIndex(db *sql.DB, embedder ports.Embedder, dims int, logger *slog.Logger) *PgvectorIndex {
	if dims <= 0 {
		dims = defaultDimensions
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &PgvectorIndex{
		db:       db,
		embedder: embedder,
		dims:     dims,
		logger:   logger,
		builder:  sq.StatementBuilder.PlaceholderFormat(sq.Dollar),
	}
}

func (x *PgvectorIndex) ensureReady(ctx context.Context) error {
	x.ready.Do(func() {
		schema := fmt.Sprintf(`
CREATE EXTENSION IF NOT EXISTS vector;
CREATE TABLE IF NOT EXISTS trial_collections (
    name       TEXT PRIMARY KEY,
    trial_name TEXT NOT NULL UNIQUE,
    created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);
CREATE TABLE IF NOT EXISTS trial_documents (
    collection TEXT NOT NULL REFERENCES trial_collections(name) ON DELETE CASCADE,
    doc_id     TEXT NOT NULL,
    content    TEXT NOT NULL,
    metadata   JSONB NOT NULL,
    embedding  vector(%d),
    updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    PRIMARY KEY (collection, doc_id)
);
CREATE INDEX IF NOT EXISTS trial_documents_file_idx
    ON trial_documents (collection, (metadata->>'file'));`, x.dims)

		cctx, cancel := context.WithTimeout(ctx, 15*time.Second)
		defer cancel()
		_, x.readyErr = x.db.ExecContext(cctx, schema)
	})
	if x.readyErr != nil {
		return fmt.Errorf("index schema: %w", x.readyErr)
	}
	return nil
}

// GetOrCreateCollection registers the trial's collection lazily and returns
// its name.
func (x *PgvectorIndex) GetOrCreateCollection(ctx context.Context, trialName string) (string, error) {
	if err := x.ensureReady(ctx); err != nil {
		return "", err
	}

	name := collectionName(trialName)
	query, args, err := x.builder.
		Insert("trial_collections").
		Columns("name", "trial_name").
		Values(name, trialName).
		Suffix("ON CONFLICT (name) DO NOTHING").
		ToSql()
	if err != nil {
		return "", fmt.Errorf("build collection insert: %w", err)
	}

	if _, err := x.db.ExecContext(ctx, query, args...); err != nil {
		return "", fmt.Errorf("create collection for %s: %w", trialName, err)
	}
	return name, nil
}

// EmbedDataset derives the file's documents from the summary, embeds their
// texts in one batch, and upserts them keyed on (collection, doc_id).
// Re-embedding identical content replaces rows in place.
func (x *PgvectorIndex) EmbedDataset(ctx context.Context, trialName, fileName string, summary domain.AnalysisSummary) error {
	collection, err := x.GetOrCreateCollection(ctx, trialName)
	if err != nil {
		return err
	}

	docs := buildDocuments(trialName, fileName, summary)
	if len(docs) == 0 {
		return nil
	}

	texts := make([]string, len(docs))
	for i, doc := range docs {
		texts[i] = doc.Text
	}

	vectors, err := x.embedder.EmbedTexts(ctx, texts)
	if err != nil {
		return fmt.Errorf("embed %s: %w", fileName, err)
	}
	if len(vectors) != len(docs) {
		return fmt.Errorf("embedder returned %d vectors for %d documents", len(vectors), len(docs))
	}

	for i, doc := range docs {
		metadata, err := json.Marshal(doc.Metadata)
		if err != nil {
			return fmt.Errorf("marshal metadata for %s: %w", doc.ID, err)
		}

		query, args, err := x.builder.
			Insert("trial_documents").
			Columns("collection", "doc_id", "content", "metadata", "embedding").
			Values(collection, doc.ID, doc.Text, metadata, pgvector.NewVector(vectors[i])).
			Suffix(`ON CONFLICT (collection, doc_id) DO UPDATE SET
                content = EXCLUDED.content,
                metadata = EXCLUDED.metadata,
                embedding = EXCLUDED.embedding,
                updated_at = NOW()`).
			ToSql()
		if err != nil {
			return fmt.Errorf("build document upsert: %w", err)
		}
		if _, err := x.db.ExecContext(ctx, query, args...); err != nil {
			return fmt.Errorf("upsert document %s: %w", doc.ID, err)
		}
	}

	x.logger.Debug("embedded dataset", "trial", trialName, "file", fileName, "documents", len(docs))
	return nil
}

// RemoveFile drops every document belonging to one file. Matching nothing
// is not an error.
func (x *PgvectorIndex) RemoveFile(ctx context.Context, trialName, fileName string) error {
	if err := x.ensureReady(ctx); err != nil {
		return err
	}

	query, args, err := x.builder.
		Delete("trial_documents").
		Where(sq.Eq{"collection": collectionName(trialName)}).
		Where("metadata->>'file' = ?", fileName).
		ToSql()
	if err != nil {
		return fmt.Errorf("build document delete: %w", err)
	}

	res, err := x.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("remove documents for %s: %w", fileName, err)
	}
	if n, err := res.RowsAffected(); err == nil && n > 0 {
		x.logger.Debug("removed documents", "trial", trialName, "file", fileName, "count", n)
	}
	return nil
}

// Retrieve runs nearest-neighbor search scoped to one trial collection.
// A trial with no collection yields an empty result, not an error.
func (x *PgvectorIndex) Retrieve(ctx context.Context, trialName, query string, topK int, includeTypes ...string) ([]domain.ScoredDocument, error) {
	if err := x.ensureReady(ctx); err != nil {
		return nil, err
	}

	collection := collectionName(trialName)
	exists, err := x.collectionExists(ctx, collection)
	if err != nil {
		return nil, err
	}
	if !exists {
		return []domain.ScoredDocument{}, nil
	}

	if topK <= 0 {
		topK = 5
	}

	vectors, err := x.embedder.EmbedTexts(ctx, []string{query})
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}
	if len(vectors) != 1 {
		return nil, fmt.Errorf("embedder returned %d vectors for one query", len(vectors))
	}

	builder := x.builder.
		Select("doc_id", "content", "metadata").
		Column(sq.Expr("embedding <=> ? AS distance", pgvector.NewVector(vectors[0]))).
		From("trial_documents").
		Where(sq.Eq{"collection": collection}).
		OrderBy("distance").
		Limit(uint64(topK))
	if len(includeTypes) > 0 {
		builder = builder.Where("metadata->>'type' = ANY(?)", pq.StringArray(includeTypes))
	}

	sqlQuery, args, err := builder.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build retrieval query: %w", err)
	}

	rows, err := x.db.QueryContext(ctx, sqlQuery, args...)
	if err != nil {
		return nil, fmt.Errorf("retrieve from %s: %w", collection, err)
	}
	defer rows.Close()

	results := make([]domain.ScoredDocument, 0, topK)
	for rows.Next() {
		var (
			doc      domain.ScoredDocument
			metadata []byte
		)
		if err := rows.Scan(&doc.ID, &doc.Document, &metadata, &doc.Distance); err != nil {
			return nil, fmt.Errorf("scan retrieval row: %w", err)
		}
		if err := json.Unmarshal(metadata, &doc.Metadata); err != nil {
			return nil, fmt.Errorf("decode metadata for %s: %w", doc.ID, err)
		}
		results = append(results, doc)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows iteration: %w", err)
	}
	return results, nil
}

// CollectionStats reports document counts for one trial collection. A trial
// without a collection yields zero counts.
func (x *PgvectorIndex) CollectionStats(ctx context.Context, trialName string) (domain.CollectionStats, error) {
	if err := x.ensureReady(ctx); err != nil {
		return domain.CollectionStats{}, err
	}

	stats := domain.CollectionStats{TrialName: trialName}
	collection := collectionName(trialName)
	exists, err := x.collectionExists(ctx, collection)
	if err != nil {
		return domain.CollectionStats{}, err
	}
	if !exists {
		return stats, nil
	}
	stats.Collection = collection

	query, args, err := x.builder.
		Select("metadata->>'type' AS doc_type", "COUNT(*)").
		From("trial_documents").
		Where(sq.Eq{"collection": collection}).
		GroupBy("doc_type").
		ToSql()
	if err != nil {
		return domain.CollectionStats{}, fmt.Errorf("build stats query: %w", err)
	}

	rows, err := x.db.QueryContext(ctx, query, args...)
	if err != nil {
		return domain.CollectionStats{}, fmt.Errorf("query stats for %s: %w", collection, err)
	}
	defer rows.Close()

	stats.TypeCounts = map[string]int{}
	for rows.Next() {
		var (
			docType string
			count   int
		)
		if err := rows.Scan(&docType, &count); err != nil {
			return domain.CollectionStats{}, fmt.Errorf("scan stats row: %w", err)
		}
		stats.TypeCounts[docType] = count
		stats.DocumentCount += count
	}
	if err := rows.Err(); err != nil {
		return domain.CollectionStats{}, fmt.Errorf("rows iteration: %w", err)
	}
	return stats, nil
}

// ListTrials returns the trial names that have collections.
func (x *PgvectorIndex) ListTrials(ctx context.Context) ([]string, error) {
	if err := x.ensureReady(ctx); err != nil {
		return nil, err
	}

	rows, err := x.db.QueryContext(ctx, `SELECT trial_name FROM trial_collections ORDER BY trial_name`)
	if err != nil {
		return nil, fmt.Errorf("list collections: %w", err)
	}
	defer rows.Close()

	var trials []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("scan trial name: %w", err)
		}
		trials = append(trials, name)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows iteration: %w", err)
	}
	return trials, nil
}

// DeleteCollection removes the trial's collection and, via cascade, its
// documents.
func (x *PgvectorIndex) DeleteCollection(ctx context.Context, trialName string) error {
	if err := x.ensureReady(ctx); err != nil {
		return err
	}

	query, args, err := x.builder.
		Delete("trial_collections").
		Where(sq.Eq{"name": collectionName(trialName)}).
		ToSql()
	if err != nil {
		return fmt.Errorf("build collection delete: %w", err)
	}

	if _, err := x.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("delete collection for %s: %w", trialName, err)
	}
	return nil
}

func (x *PgvectorIndex) collectionExists(ctx context.Context, collection string) (bool, error) {
	var name string
	err := x.db.QueryRowContext(ctx,
		`SELECT name FROM trial_collections WHERE name = $1`, collection).Scan(&name)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("look up collection: %w", err)
	}
	return true, nil
}
