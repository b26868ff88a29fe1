package store

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"sort"
	"strings"
	"unicode"

	"github.com/harun/sigap/pkg/coretools"
)

// Column weights for ranking: id, title, content
const (
	titleWeight   = 2.0
	contentWeight = 1.0
	snippetTokens = 24
)

var _ coretools.DocumentIndex = (*Store)(nil)

// initDocuments creates the full-text document index. FTS5 needs the
// sqlite_fts5 build tag; without it the index is created on FTS4, which
// go-sqlite3 always compiles in.
func (s *Store) initDocuments() error {
	_, err := s.db.Exec(`
		CREATE VIRTUAL TABLE IF NOT EXISTS documents_fts USING fts5(
			id UNINDEXED,
			title,
			content,
			tokenize='unicode61 remove_diacritics 2'
		)`)
	if err == nil {
		s.fts5 = true
		return nil
	}
	if !strings.Contains(err.Error(), "no such module") {
		return err
	}

	s.logger.Debug().Msg("FTS5 not compiled in, indexing documents with FTS4")
	_, err = s.db.Exec(`
		CREATE VIRTUAL TABLE IF NOT EXISTS documents_fts USING fts4(
			id,
			title,
			content,
			notindexed=id,
			tokenize=unicode61
		)`)
	return err
}

// IndexDocuments adds documents to the search index, replacing any with the
// same id.
func (s *Store) IndexDocuments(ctx context.Context, docs ...coretools.Document) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	for _, doc := range docs {
		if doc.ID == "" {
			return errors.New("document id is required")
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM documents_fts WHERE id = ?`, doc.ID); err != nil {
			return fmt.Errorf("failed to replace document %s: %w", doc.ID, err)
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO documents_fts (id, title, content) VALUES (?, ?, ?)`,
			doc.ID, doc.Title, doc.Content,
		); err != nil {
			return fmt.Errorf("failed to index document %s: %w", doc.ID, err)
		}
	}

	return tx.Commit()
}

// DocumentCount returns the number of indexed documents
func (s *Store) DocumentCount(ctx context.Context) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM documents_fts`).Scan(&n)
	return n, err
}

// Search implements coretools.DocumentIndex with a full-text MATCH ranked by
// BM25. A non-empty scope restricts the search to those document ids.
func (s *Store) Search(ctx context.Context, query string, scope []string, limit int) ([]coretools.SearchHit, error) {
	match := matchExpression(query)
	if match == "" {
		return nil, errors.New("query has no searchable terms")
	}
	if limit <= 0 {
		limit = 5
	}

	args := []interface{}{match}
	filter := ""
	if len(scope) > 0 {
		filter = " AND id IN (?" + strings.Repeat(", ?", len(scope)-1) + ")"
		for _, id := range scope {
			args = append(args, id)
		}
	}

	if s.fts5 {
		return s.searchFTS5(ctx, filter, args, limit)
	}
	return s.searchFTS4(ctx, filter, args, limit)
}

func (s *Store) searchFTS5(ctx context.Context, filter string, args []interface{}, limit int) ([]coretools.SearchHit, error) {
	query := fmt.Sprintf(`
		SELECT id, title, snippet(documents_fts, 2, '', '', '...', %d),
			bm25(documents_fts, 0.0, %g, %g) AS score
		FROM documents_fts
		WHERE documents_fts MATCH ?%s
		ORDER BY score, id
		LIMIT ?`, snippetTokens, titleWeight, contentWeight, filter)

	rows, err := s.db.QueryContext(ctx, query, append(args, limit)...)
	if err != nil {
		return nil, fmt.Errorf("document search failed: %w", err)
	}
	defer rows.Close()

	hits := make([]coretools.SearchHit, 0)
	for rows.Next() {
		var hit coretools.SearchHit
		var score float64
		if err := rows.Scan(&hit.DocumentID, &hit.Title, &hit.Snippet, &score); err != nil {
			return nil, err
		}
		// BM25 scores are negative, convert to positive
		hit.Score = -score
		hits = append(hits, hit)
	}
	return hits, rows.Err()
}

// searchFTS4 ranks with BM25 computed from matchinfo, since FTS4 has no
// built-in ranking function.
func (s *Store) searchFTS4(ctx context.Context, filter string, args []interface{}, limit int) ([]coretools.SearchHit, error) {
	query := fmt.Sprintf(`
		SELECT id, title, snippet(documents_fts, '', '', '...', 2, %d),
			matchinfo(documents_fts, 'pcnalx')
		FROM documents_fts
		WHERE documents_fts MATCH ?%s`, snippetTokens, filter)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("document search failed: %w", err)
	}
	defer rows.Close()

	hits := make([]coretools.SearchHit, 0)
	for rows.Next() {
		var hit coretools.SearchHit
		var info []byte
		if err := rows.Scan(&hit.DocumentID, &hit.Title, &hit.Snippet, &info); err != nil {
			return nil, err
		}
		hit.Score = bm25FromMatchinfo(info, []float64{0, titleWeight, contentWeight})
		hits = append(hits, hit)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	sort.Slice(hits, func(i, j int) bool {
		if hits[i].Score != hits[j].Score {
			return hits[i].Score > hits[j].Score
		}
		return hits[i].DocumentID < hits[j].DocumentID
	})
	if len(hits) > limit {
		hits = hits[:limit]
	}
	return hits, nil
}

// bm25FromMatchinfo scores a row from matchinfo(..., 'pcnalx'): phrase count,
// column count, row count, average column lengths, this row's column lengths,
// then three hit counters per phrase and column.
func bm25FromMatchinfo(info []byte, weights []float64) float64 {
	const k1, b = 1.2, 0.75

	vals := make([]uint32, len(info)/4)
	for i := range vals {
		vals[i] = binary.NativeEndian.Uint32(info[i*4:])
	}
	if len(vals) < 3 {
		return 0
	}
	p, c, n := int(vals[0]), int(vals[1]), float64(vals[2])
	if len(vals) < 3+2*c+3*p*c {
		return 0
	}
	avg := vals[3 : 3+c]
	lengths := vals[3+c : 3+2*c]
	x := vals[3+2*c:]

	score := 0.0
	for i := 0; i < p; i++ {
		for j := 0; j < c && j < len(weights); j++ {
			if weights[j] == 0 {
				continue
			}
			base := 3 * (i*c + j)
			tf, docs := float64(x[base]), float64(x[base+2])
			if tf == 0 {
				continue
			}
			idf := math.Log((n-docs+0.5)/(docs+0.5) + 1)
			norm := 1.0
			if avg[j] > 0 {
				norm = float64(lengths[j]) / float64(avg[j])
			}
			score += weights[j] * idf * tf * (k1 + 1) / (tf + k1*(1-b+b*norm))
		}
	}
	return score
}

// matchExpression turns free text into an OR of quoted terms so user input
// never reaches the MATCH grammar
func matchExpression(query string) string {
	terms := strings.FieldsFunc(strings.ToLower(query), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	if len(terms) == 0 {
		return ""
	}
	quoted := make([]string, len(terms))
	for i, t := range terms {
		quoted[i] = `"` + t + `"`
	}
	return strings.Join(quoted, " OR ")
}
