package store

import (
	"context"
	"encoding/binary"
	"testing"

	"github.com/harun/sigap/pkg/coretools"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStore_SearchRanksTitleHitsHigher(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.IndexDocuments(ctx,
		coretools.Document{ID: "a", Title: "Catatan rapat", Content: "cuti dibahas singkat dalam rapat koordinasi"},
		coretools.Document{ID: "b", Title: "Pedoman cuti", Content: "cuti tahunan dan cuti besar"},
		coretools.Document{ID: "c", Title: "Anggaran", Content: "revisi anggaran triwulan"},
	))

	hits, err := s.Search(ctx, "cuti", nil, 5)
	require.NoError(t, err)
	require.Len(t, hits, 2)
	assert.Equal(t, "b", hits[0].DocumentID)
	assert.Equal(t, "Pedoman cuti", hits[0].Title)
	assert.Contains(t, hits[0].Snippet, "cuti")
	assert.Greater(t, hits[0].Score, hits[1].Score)
	assert.Greater(t, hits[1].Score, 0.0)
}

func TestStore_SearchScopeAndLimit(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()
	require.NoError(t, s.IndexDocuments(ctx, coretools.DefaultDocuments()...))

	hits, err := s.Search(ctx, "anggaran", nil, 5)
	require.NoError(t, err)
	require.NotEmpty(t, hits)
	assert.Equal(t, "pedoman-03-2024-anggaran", hits[0].DocumentID)

	hits, err = s.Search(ctx, "anggaran", []string{"se-04-2024-cuti"}, 5)
	require.NoError(t, err)
	assert.Empty(t, hits)

	hits, err = s.Search(ctx, "paling lambat", nil, 1)
	require.NoError(t, err)
	assert.Len(t, hits, 1)
}

func TestStore_SearchQuotesOperators(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()
	require.NoError(t, s.IndexDocuments(ctx, coretools.DefaultDocuments()...))

	// MATCH syntax in user text is treated as plain terms
	hits, err := s.Search(ctx, `cuti" NOT (pegawai* OR`, nil, 5)
	require.NoError(t, err)
	require.NotEmpty(t, hits)
	assert.Equal(t, "se-04-2024-cuti", hits[0].DocumentID)

	_, err = s.Search(ctx, " ?! ", nil, 5)
	assert.Error(t, err)
}

func TestStore_IndexDocumentsReplaces(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.IndexDocuments(ctx, coretools.Document{ID: "a", Title: "Lama", Content: "naskah lama"}))
	require.NoError(t, s.IndexDocuments(ctx, coretools.Document{ID: "a", Title: "Baru", Content: "naskah baru"}))

	n, err := s.DocumentCount(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	hits, err := s.Search(ctx, "lama", nil, 5)
	require.NoError(t, err)
	assert.Empty(t, hits)

	assert.Error(t, s.IndexDocuments(ctx, coretools.Document{Title: "no id"}))
}

func TestMatchExpression(t *testing.T) {
	assert.Equal(t, `"surat" OR "edaran"`, matchExpression("Surat-Edaran"))
	assert.Equal(t, `"nip" OR "1985"`, matchExpression(`NIP: "1985"`))
	assert.Equal(t, "", matchExpression("  ... "))
}

func TestBM25FromMatchinfo(t *testing.T) {
	encode := func(vals ...uint32) []byte {
		out := make([]byte, 4*len(vals))
		for i, v := range vals {
			binary.NativeEndian.PutUint32(out[i*4:], v)
		}
		return out
	}
	weights := []float64{0, titleWeight, contentWeight}

	// one phrase, three columns, ten rows; avg lengths then row lengths;
	// hits per column: this row, all rows, rows with a hit
	title := encode(1, 3, 10, 0, 3, 20, 0, 3, 20, 0, 0, 0, 1, 2, 2, 0, 0, 0)
	content := encode(1, 3, 10, 0, 3, 20, 0, 3, 20, 0, 0, 0, 0, 0, 0, 1, 2, 2)

	assert.Greater(t, bm25FromMatchinfo(title, weights), bm25FromMatchinfo(content, weights))
	assert.Greater(t, bm25FromMatchinfo(content, weights), 0.0)
	assert.Equal(t, 0.0, bm25FromMatchinfo(encode(1, 3), weights))
}
