// Package search is the read-only faceted query API over the index.
package search

import (
	"context"
	"fmt"
	"strings"

	"github.com/sondreby/ailog/internal/index"
	"github.com/sondreby/ailog/internal/model"
)

// Options are the conjunctive search filters. Empty fields mean "no
// filter"; empty Text means pure metadata filtering.
type Options struct {
	Text         string
	Providers    []model.Provider
	ProjectQuery string // substring match on project name or path
	Categories   []model.Category
	Limit        int
	Offset       int
}

// Result is one matched message.
type Result struct {
	MessageID   string
	SessionID   string
	Provider    model.Provider
	ProjectName string
	Category    model.Category
	Timestamp   string
	Snippet     string
}

// Results carries ranked matches plus per-category facet counts. Facet
// counts honor every filter except the category filter, so a caller can
// always show how many matches each category holds.
type Results struct {
	Results     []Result
	TotalCount  int
	FacetCounts map[model.Category]int
}

// Service executes read-only queries. It never mutates the store.
type Service struct {
	store *index.Store
}

func NewService(store *index.Store) *Service {
	return &Service{store: store}
}

// Search runs one faceted query. The context cancels in-flight statements,
// so a caller can supersede a stale query by cancelling its context.
func (s *Service) Search(ctx context.Context, opts Options) (*Results, error) {
	if opts.Limit <= 0 {
		opts.Limit = 50
	}

	if err := s.store.Raw().PingContext(ctx); err != nil {
		return nil, fmt.Errorf("%w: %v", index.ErrStoreUnavailable, err)
	}

	if strings.TrimSpace(opts.Text) == "" {
		return s.searchMetadata(ctx, opts)
	}
	return s.searchText(ctx, opts)
}

// searchText matches via FTS5 with bm25 ranking and snippets.
func (s *Service) searchText(ctx context.Context, opts Options) (*Results, error) {
	ftsQuery := escapeFTSQuery(opts.Text)

	where, args := buildConditions(opts, true)
	whereClause := ""
	if len(where) > 0 {
		whereClause = "AND " + strings.Join(where, " AND ")
	}

	out := &Results{FacetCounts: emptyFacets()}

	countSQL := fmt.Sprintf(`
		SELECT COUNT(*)
		FROM messages_fts f
		JOIN messages m ON m.rowid = f.rowid
		JOIN sessions s ON s.session_id = m.session_id
		LEFT JOIN projects p ON p.project_id = s.project_id
		WHERE messages_fts MATCH ?
		%s`, whereClause)
	if err := s.store.Raw().QueryRowContext(ctx, countSQL,
		prepend(ftsQuery, args)...).Scan(&out.TotalCount); err != nil {
		return nil, fmt.Errorf("count query: %w", err)
	}

	// facet counts drop the category filter only
	facetWhere, facetArgs := buildConditions(opts, false)
	facetClause := ""
	if len(facetWhere) > 0 {
		facetClause = "AND " + strings.Join(facetWhere, " AND ")
	}
	facetSQL := fmt.Sprintf(`
		SELECT m.category, COUNT(*)
		FROM messages_fts f
		JOIN messages m ON m.rowid = f.rowid
		JOIN sessions s ON s.session_id = m.session_id
		LEFT JOIN projects p ON p.project_id = s.project_id
		WHERE messages_fts MATCH ?
		%s
		GROUP BY m.category`, facetClause)
	rows, err := s.store.Raw().QueryContext(ctx, facetSQL, prepend(ftsQuery, facetArgs)...)
	if err != nil {
		return nil, fmt.Errorf("facet query: %w", err)
	}
	for rows.Next() {
		var raw string
		var n int
		if err := rows.Scan(&raw, &n); err != nil {
			rows.Close()
			return nil, err
		}
		category, _ := model.NormalizeCategory(raw)
		out.FacetCounts[category] += n
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	resultSQL := fmt.Sprintf(`
		SELECT
		    m.message_id,
		    m.session_id,
		    s.provider,
		    COALESCE(p.name, ''),
		    m.category,
		    m.ts,
		    snippet(messages_fts, 0, '>>>', '<<<', '...', 40)
		FROM messages_fts f
		JOIN messages m ON m.rowid = f.rowid
		JOIN sessions s ON s.session_id = m.session_id
		LEFT JOIN projects p ON p.project_id = s.project_id
		WHERE messages_fts MATCH ?
		%s
		ORDER BY bm25(messages_fts)
		LIMIT ? OFFSET ?`, whereClause)
	resultArgs := append(prepend(ftsQuery, args), opts.Limit, opts.Offset)
	rows, err = s.store.Raw().QueryContext(ctx, resultSQL, resultArgs...)
	if err != nil {
		return nil, fmt.Errorf("search query: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var r Result
		if err := rows.Scan(&r.MessageID, &r.SessionID, &r.Provider,
			&r.ProjectName, &r.Category, &r.Timestamp, &r.Snippet); err != nil {
			return nil, err
		}
		out.Results = append(out.Results, r)
	}
	return out, rows.Err()
}

// searchMetadata lists newest matching messages without text ranking.
// Facet counts come from the materialized side table instead of a scan.
func (s *Service) searchMetadata(ctx context.Context, opts Options) (*Results, error) {
	out := &Results{FacetCounts: emptyFacets()}

	facets, err := s.facetsFromSideTable(ctx, opts)
	if err != nil {
		return nil, err
	}
	out.FacetCounts = facets

	selected := opts.Categories
	if len(selected) == 0 {
		selected = model.Categories
	}
	for _, c := range selected {
		out.TotalCount += facets[c]
	}

	where, args := buildConditions(opts, true)
	whereClause := ""
	if len(where) > 0 {
		whereClause = "WHERE " + strings.Join(where, " AND ")
	}
	resultSQL := fmt.Sprintf(`
		SELECT
		    m.message_id,
		    m.session_id,
		    s.provider,
		    COALESCE(p.name, ''),
		    m.category,
		    m.ts,
		    substr(m.text, 1, 160)
		FROM messages m
		JOIN sessions s ON s.session_id = m.session_id
		LEFT JOIN projects p ON p.project_id = s.project_id
		%s
		ORDER BY m.ts DESC
		LIMIT ? OFFSET ?`, whereClause)
	rows, err := s.store.Raw().QueryContext(ctx, resultSQL,
		append(args, opts.Limit, opts.Offset)...)
	if err != nil {
		return nil, fmt.Errorf("list query: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var r Result
		if err := rows.Scan(&r.MessageID, &r.SessionID, &r.Provider,
			&r.ProjectName, &r.Category, &r.Timestamp, &r.Snippet); err != nil {
			return nil, err
		}
		out.Results = append(out.Results, r)
	}
	return out, rows.Err()
}

func (s *Service) facetsFromSideTable(ctx context.Context, opts Options) (map[model.Category]int, error) {
	var conditions []string
	var args []any

	if len(opts.Providers) > 0 {
		ph := placeholders(len(opts.Providers))
		conditions = append(conditions, fmt.Sprintf("fc.provider IN (%s)", ph))
		for _, p := range opts.Providers {
			args = append(args, string(p))
		}
	}
	if q := strings.TrimSpace(strings.ToLower(opts.ProjectQuery)); q != "" {
		conditions = append(conditions,
			"(LOWER(p.name) LIKE ? OR LOWER(p.root_path) LIKE ?)")
		pattern := "%" + q + "%"
		args = append(args, pattern, pattern)
	}

	whereClause := ""
	if len(conditions) > 0 {
		whereClause = "WHERE " + strings.Join(conditions, " AND ")
	}
	facetSQL := fmt.Sprintf(`
		SELECT fc.category, SUM(fc.n)
		FROM facet_counts fc
		LEFT JOIN projects p ON p.project_id = fc.project_id
		%s
		GROUP BY fc.category`, whereClause)

	rows, err := s.store.Raw().QueryContext(ctx, facetSQL, args...)
	if err != nil {
		return nil, fmt.Errorf("facet query: %w", err)
	}
	defer rows.Close()

	facets := emptyFacets()
	for rows.Next() {
		var raw string
		var n int
		if err := rows.Scan(&raw, &n); err != nil {
			return nil, err
		}
		category, _ := model.NormalizeCategory(raw)
		facets[category] += n
	}
	return facets, rows.Err()
}

// buildConditions renders the shared filter clauses. includeCategories is
// false for facet counting.
func buildConditions(opts Options, includeCategories bool) ([]string, []any) {
	var conditions []string
	var args []any

	if includeCategories && len(opts.Categories) > 0 {
		ph := placeholders(len(opts.Categories))
		conditions = append(conditions, fmt.Sprintf("m.category IN (%s)", ph))
		for _, c := range opts.Categories {
			args = append(args, string(c))
		}
	}
	if len(opts.Providers) > 0 {
		ph := placeholders(len(opts.Providers))
		conditions = append(conditions, fmt.Sprintf("s.provider IN (%s)", ph))
		for _, p := range opts.Providers {
			args = append(args, string(p))
		}
	}
	if q := strings.TrimSpace(strings.ToLower(opts.ProjectQuery)); q != "" {
		conditions = append(conditions,
			"(LOWER(p.name) LIKE ? OR LOWER(p.root_path) LIKE ?)")
		pattern := "%" + q + "%"
		args = append(args, pattern, pattern)
	}
	return conditions, args
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?,", n), ",")
}

func prepend(first any, rest []any) []any {
	return append([]any{first}, rest...)
}

func emptyFacets() map[model.Category]int {
	facets := make(map[model.Category]int, len(model.Categories))
	for _, c := range model.Categories {
		facets[c] = 0
	}
	return facets
}

// escapeFTSQuery quotes each term so user input cannot inject FTS5 syntax.
func escapeFTSQuery(query string) string {
	terms := strings.Fields(query)
	if len(terms) == 0 {
		return `""`
	}
	escaped := make([]string, 0, len(terms))
	for _, term := range terms {
		escaped = append(escaped, `"`+strings.ReplaceAll(term, `"`, `""`)+`"`)
	}
	return strings.Join(escaped, " ")
}
