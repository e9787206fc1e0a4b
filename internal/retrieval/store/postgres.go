package store

import (
	"context"
	stderrors "errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgvector/pgvector-go"

	"github.com/kart-io/statute-agent/internal/retrieval/model"
	"github.com/kart-io/statute-agent/pkg/utils/json"
)

// PostgresCorpus searches the articles table with pgvector.
type PostgresCorpus struct {
	db    *pgxpool.Pool
	table string
}

var _ Corpus = (*PostgresCorpus)(nil)

// NewPostgresCorpus creates a corpus over table (default "articles").
func NewPostgresCorpus(db *pgxpool.Pool, table string) *PostgresCorpus {
	if table == "" {
		table = "articles"
	}
	return &PostgresCorpus{db: db, table: table}
}

// Name returns "postgres".
func (p *PostgresCorpus) Name() string { return "postgres" }

// embeddingColumn returns the vector column of the language space.
func embeddingColumn(lang model.Language) string {
	if lang == model.LangArabic {
		return "arabic_embedding"
	}
	return "embedding"
}

func searchSQL(table string, lang model.Language) string {
	col := embeddingColumn(lang)
	return fmt.Sprintf(`
		SELECT
			article_number,
			text_arabic,
			COALESCE(text_english, ''),
			hierarchy_path,
			1 - (%[2]s <=> $1::vector) AS similarity
		FROM %[1]s
		WHERE
			%[2]s IS NOT NULL
			AND 1 - (%[2]s <=> $1::vector) >= $2
		ORDER BY
			%[2]s <=> $1::vector,
			article_number
		LIMIT $3`, table, col)
}

func fetchSQL(table string) string {
	return fmt.Sprintf(`
		SELECT
			article_number,
			text_arabic,
			COALESCE(text_english, ''),
			hierarchy_path
		FROM %s
		WHERE article_number = $1`, table)
}

// Search implements Corpus.
func (p *PostgresCorpus) Search(ctx context.Context, vector []float32, threshold float64, topK int, lang model.Language) ([]Hit, error) {
	rows, err := p.db.Query(ctx, searchSQL(p.table, lang), pgvector.NewVector(vector), threshold, topK)
	if err != nil {
		return nil, fmt.Errorf("failed to query articles: %w", err)
	}
	defer rows.Close()

	var hits []Hit
	for rows.Next() {
		var (
			a    model.Article
			path []byte
			sim  float64
		)
		if err := rows.Scan(&a.ArticleID, &a.TextArabic, &a.TextEnglish, &path, &sim); err != nil {
			return nil, fmt.Errorf("failed to scan article: %w", err)
		}
		a.HierarchyPath = decodeHierarchy(path)
		hits = append(hits, Hit{ArticleID: a.ArticleID, Similarity: sim, Article: &a})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating articles: %w", err)
	}

	return finish(hits, threshold, topK), nil
}

// FetchByID implements Corpus.
func (p *PostgresCorpus) FetchByID(ctx context.Context, id int) (*model.Article, error) {
	var (
		a    model.Article
		path []byte
	)
	err := p.db.QueryRow(ctx, fetchSQL(p.table), id).Scan(&a.ArticleID, &a.TextArabic, &a.TextEnglish, &path)
	if stderrors.Is(err, pgx.ErrNoRows) {
		return nil, missing(id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to fetch article %d: %w", id, err)
	}
	a.HierarchyPath = decodeHierarchy(path)
	return &a, nil
}

// decodeHierarchy tolerates NULL and malformed hierarchy_path values.
func decodeHierarchy(raw []byte) map[string]any {
	if len(raw) == 0 {
		return nil
	}
	var m map[string]any
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil
	}
	return m
}
