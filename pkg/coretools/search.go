package coretools

import (
	"context"
	"errors"
	"fmt"

	"github.com/harun/sigap/pkg/toolexecutor"
)

// Document is an indexed document
type Document struct {
	ID      string `json:"id" yaml:"id"`
	Title   string `json:"title" yaml:"title"`
	Content string `json:"content" yaml:"content"`
}

// SearchHit is one ranked search result
type SearchHit struct {
	DocumentID string  `json:"document_id"`
	Title      string  `json:"title"`
	Snippet    string  `json:"snippet"`
	Score      float64 `json:"score"`
}

// DocumentIndex is the document collaborator behind the search tool
type DocumentIndex interface {
	Search(ctx context.Context, query string, scope []string, limit int) ([]SearchHit, error)
}

func searchTool(opts Options) toolexecutor.ToolDefinition {
	return toolexecutor.ToolDefinition{
		Name:        ToolSearch,
		Description: "Search the documents available to this conversation by keyword. Returns ranked snippets.",
		Parameters: []toolexecutor.ToolParameter{
			{Name: "query", Type: "string", Description: "Keywords to search for", Required: true},
			{Name: "limit", Type: "integer", Description: "Maximum number of results (default 5)"},
		},
		Handler: func(ctx context.Context, params map[string]interface{}) (interface{}, error) {
			query := stringParam(params, "query")
			limit := intParam(params, "limit", 5)
			scope := toolexecutor.DocumentScopeFromContext(ctx)
			if opts.Index == nil {
				return nil, errors.New("no document index configured")
			}

			hits, err := opts.Index.Search(ctx, query, scope, limit)
			if err != nil {
				return nil, err
			}
			if len(hits) == 0 {
				return fmt.Sprintf("No documents match %q.", query), nil
			}
			return hits, nil
		},
	}
}

// DefaultDocuments is the seed collection of internal circulars indexed
// when the document store is empty
func DefaultDocuments() []Document {
	return []Document{
		{
			ID:    "se-01-2024-perjalanan-dinas",
			Title: "Surat Edaran Perjalanan Dinas",
			Content: "Perjalanan dinas dalam negeri wajib diajukan paling lambat lima hari kerja sebelum keberangkatan. " +
				"Uang harian dibayarkan sesuai standar biaya masukan tahun berjalan. Pertanggungjawaban biaya " +
				"disampaikan paling lambat sepuluh hari kerja setelah perjalanan selesai.",
		},
		{
			ID:    "sop-02-2024-persuratan",
			Title: "SOP Tata Naskah Dinas",
			Content: "Nota dinas digunakan untuk komunikasi internal antar unit kerja. Surat undangan ditandatangani " +
				"pejabat paling rendah eselon III. Setiap naskah dinas diberi nomor agenda dari sekretariat.",
		},
		{
			ID:    "pedoman-03-2024-anggaran",
			Title: "Pedoman Revisi Anggaran",
			Content: "Revisi anggaran diajukan melalui aplikasi perencanaan dengan melampirkan kerangka acuan kerja. " +
				"Pergeseran anggaran antar akun dalam satu output tidak memerlukan persetujuan eselon I. " +
				"Realisasi anggaran dilaporkan setiap bulan paling lambat tanggal lima.",
		},
		{
			ID:    "se-04-2024-cuti",
			Title: "Surat Edaran Cuti Pegawai",
			Content: "Cuti tahunan pegawai negeri sipil adalah dua belas hari kerja. Permohonan cuti diajukan melalui " +
				"sistem kepegawaian paling lambat tiga hari kerja sebelumnya. Sisa cuti dapat ditangguhkan paling banyak enam hari.",
		},
	}
}
