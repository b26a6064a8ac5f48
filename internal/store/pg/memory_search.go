package pg

import (
	"context"
	"fmt"
	"strings"

	"github.com/nextlevelbuilder/goclaw/internal/store"
)

// Search performs hybrid search (FTS + vector) over memory_chunks.
// Merges global (user_id IS NULL) + per-user chunks, with user boost.
func (s *PGMemoryStore) Search(ctx context.Context, query string, agentID, userID string, opts store.MemorySearchOptions) ([]store.MemorySearchResult, error) {
	maxResults := opts.MaxResults
	if maxResults <= 0 {
		maxResults = s.cfg.MaxResults
	}

	aid := mustParseUUID(agentID)

	// FTS search using tsvector
	ftsResults, err := s.ftsSearch(ctx, query, aid, userID, maxResults*2)
	if err != nil {
		return nil, err
	}

	// Vector search if provider available
	var vecResults []scoredChunk
	if s.provider != nil {
		embeddings, err := s.provider.Embed(ctx, []string{query})
		if err == nil && len(embeddings) > 0 {
			vecResults, err = s.vectorSearch(ctx, embeddings[0], aid, userID, maxResults*2)
			if err != nil {
				vecResults = nil
			}
		}
	}

	// Merge results — normalize weights when one channel has no results
	textW, vecW := s.cfg.TextWeight, s.cfg.VectorWeight
	if len(ftsResults) == 0 && len(vecResults) > 0 {
		textW, vecW = 0, 1.0
	} else if len(vecResults) == 0 && len(ftsResults) > 0 {
		textW, vecW = 1.0, 0
	}
	merged := hybridMerge(ftsResults, vecResults, textW, vecW, userID)

	// Apply min score filter
	var filtered []store.MemorySearchResult
	for _, m := range merged {
		if opts.MinScore > 0 && m.Score < opts.MinScore {
			continue
		}
		if opts.PathPrefix != "" && len(m.Path) < len(opts.PathPrefix) {
			continue
		}
		filtered = append(filtered, m)
		if len(filtered) >= maxResults {
			break
		}
	}

	return filtered, nil
}

type scoredChunk struct {
	Path      string
	StartLine int
	EndLine   int
	Text      string
	Score     float64
	UserID    *string
}

func (s *PGMemoryStore) ftsSearch(ctx context.Context, query string, agentID interface{}, userID string, limit int) ([]scoredChunk, error) {
	var q string
	var args []interface{}

	if userID != "" {
		q = `SELECT path, start_line, end_line, text, user_id,
				ts_rank(tsv, plainto_tsquery('simple', $1)) AS score
			FROM memory_chunks
			WHERE agent_id = $2 AND tsv @@ plainto_tsquery('simple', $3)
			AND (user_id IS NULL OR user_id = $4)
			ORDER BY score DESC LIMIT $5`
		args = []interface{}{query, agentID, query, userID, limit}
	} else {
		q = `SELECT path, start_line, end_line, text, user_id,
				ts_rank(tsv, plainto_tsquery('simple', $1)) AS score
			FROM memory_chunks
			WHERE agent_id = $2 AND tsv @@ plainto_tsquery('simple', $3)
			AND user_id IS NULL
			ORDER BY score DESC LIMIT $4`
		args = []interface{}{query, agentID, query, limit}
	}

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []scoredChunk
	for rows.Next() {
		var r scoredChunk
		rows.Scan(&r.Path, &r.StartLine, &r.EndLine, &r.Text, &r.UserID, &r.Score)
		results = append(results, r)
	}
	return results, nil
}

func (s *PGMemoryStore) vectorSearch(ctx context.Context, embedding []float32, agentID interface{}, userID string, limit int) ([]scoredChunk, error) {
	vecStr := vectorToString(embedding)

	var q string
	var args []interface{}

	if userID != "" {
		q = `SELECT path, start_line, end_line, text, user_id,
				1 - (embedding <=> $1::vector) AS score
			FROM memory_chunks
			WHERE agent_id = $2 AND embedding IS NOT NULL
			AND (user_id IS NULL OR user_id = $3)
			ORDER BY embedding <=> $4::vector LIMIT $5`
		args = []interface{}{vecStr, agentID, userID, vecStr, limit}
	} else {
		q = `SELECT path, start_line, end_line, text, user_id,
				1 - (embedding <=> $1::vector) AS score
			FROM memory_chunks
			WHERE agent_id = $2 AND embedding IS NOT NULL
			AND user_id IS NULL
			ORDER BY embedding <=> $3::vector LIMIT $4`
		args = []interface{}{vecStr, agentID, vecStr, limit}
	}

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []scoredChunk
	for rows.Next() {
		var r scoredChunk
		rows.Scan(&r.Path, &r.StartLine, &r.EndLine, &r.Text, &r.UserID, &r.Score)
		results = append(results, r)
	}
	return results, nil
}

// likeSearch is a fallback when FTS returns nothing (e.g., cross-language query).
// Splits query into keywords (max 5, min 3 chars each) and matches via ILIKE.
// Scoped to agent_id (indexed) so scan is limited. Only runs as last resort.
func (s *PGMemoryStore) likeSearch(ctx context.Context, query string, agentID interface{}, userID string, limit int) ([]scoredChunk, error) {
	words := strings.Fields(query)
	if len(words) == 0 {
		return nil, nil
	}

	// Build OR conditions — cap at 5 longest keywords (>= 3 chars) to limit scan cost
	const maxKeywords = 5
	const minKeywordLen = 3
	var filtered []string
	for _, w := range words {
		w = strings.TrimSpace(w)
		if len(w) >= minKeywordLen {
			filtered = append(filtered, w)
		}
	}
	if len(filtered) == 0 {
		return nil, nil
	}
	// Keep longest keywords first (more selective → fewer matches)
	for i := 0; i < len(filtered); i++ {
		for j := i + 1; j < len(filtered); j++ {
			if len(filtered[j]) > len(filtered[i]) {
				filtered[i], filtered[j] = filtered[j], filtered[i]
			}
		}
	}
	if len(filtered) > maxKeywords {
		filtered = filtered[:maxKeywords]
	}

	// Build query with positional params
	// $1 = agentID, $2..$N = keywords, then optional userID, then limit
	args := []interface{}{agentID}
	var conditions []string
	for _, w := range filtered {
		args = append(args, "%"+w+"%")
		conditions = append(conditions, fmt.Sprintf("text ILIKE $%d", len(args)))
	}

	q := fmt.Sprintf(`SELECT path, start_line, end_line, text, user_id, 0.5 AS score
		FROM memory_chunks
		WHERE agent_id = $1 AND (%s)`, strings.Join(conditions, " OR "))

	if userID != "" {
		args = append(args, userID)
		q += fmt.Sprintf(" AND (user_id IS NULL OR user_id = $%d)", len(args))
	} else {
		q += " AND user_id IS NULL"
	}
	args = append(args, limit)
	q += fmt.Sprintf(" LIMIT $%d", len(args))

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []scoredChunk
	for rows.Next() {
		var r scoredChunk
		rows.Scan(&r.Path, &r.StartLine, &r.EndLine, &r.Text, &r.UserID, &r.Score)
		results = append(results, r)
	}
	return results, nil
}

// hybridMerge combines FTS and vector results with weighted scoring.
// Per-user results get a 1.2x boost. Deduplication: user copy wins over global.
func hybridMerge(fts, vec []scoredChunk, textWeight, vectorWeight float64, currentUserID string) []store.MemorySearchResult {
	type key struct {
		Path      string
		StartLine int
	}
	seen := make(map[key]*store.MemorySearchResult)

	addResult := func(r scoredChunk, weight float64) {
		k := key{r.Path, r.StartLine}
		scope := "global"
		boost := 1.0
		if r.UserID != nil && *r.UserID != "" {
			scope = "personal"
			boost = 1.2
		}
		score := r.Score * weight * boost

		if existing, ok := seen[k]; ok {
			existing.Score += score
			// User copy wins
			if scope == "personal" {
				existing.Scope = "personal"
				existing.Snippet = r.Text
			}
		} else {
			seen[k] = &store.MemorySearchResult{
				Path:      r.Path,
				StartLine: r.StartLine,
				EndLine:   r.EndLine,
				Score:     score,
				Snippet:   r.Text,
				Source:    "memory",
				Scope:     scope,
			}
		}
	}

	for _, r := range fts {
		addResult(r, textWeight)
	}
	for _, r := range vec {
		addResult(r, vectorWeight)
	}

	// Collect and sort by score
	results := make([]store.MemorySearchResult, 0, len(seen))
	for _, r := range seen {
		results = append(results, *r)
	}

	// Simple sort (descending score)
	for i := 0; i < len(results); i++ {
		for j := i + 1; j < len(results); j++ {
			if results[j].Score > results[i].Score {
				results[i], results[j] = results[j], results[i]
			}
		}
	}

	return results
}
