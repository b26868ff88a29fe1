package coretools

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/harun/sigap/pkg/toolexecutor"
	"gopkg.in/yaml.v3"
)

// LegalEntry is one article summary of a regulation
type LegalEntry struct {
	Regulation string   `json:"regulation" yaml:"regulation"`
	Title      string   `json:"title" yaml:"title"`
	Article    string   `json:"article" yaml:"article"`
	Summary    string   `json:"summary" yaml:"summary"`
	Keywords   []string `json:"keywords,omitempty" yaml:"keywords"`
}

// LegalCorpus holds article summaries for legal_lookup
type LegalCorpus struct {
	Entries []LegalEntry `yaml:"entries"`
}

// LoadLegalCorpus reads a YAML corpus file and appends it to the built-in entries
func LoadLegalCorpus(path string) (*LegalCorpus, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read legal corpus: %w", err)
	}

	var file LegalCorpus
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("failed to parse legal corpus: %w", err)
	}
	for i, e := range file.Entries {
		if e.Regulation == "" || e.Summary == "" {
			return nil, fmt.Errorf("legal corpus entry %d: regulation and summary are required", i)
		}
	}

	corpus := DefaultLegalCorpus()
	corpus.Entries = append(corpus.Entries, file.Entries...)
	return corpus, nil
}

// Lookup filters entries by regulation, article and keyword; empty filters match all
func (c *LegalCorpus) Lookup(regulation, article, keyword string, limit int) []LegalEntry {
	regulation = normalizeRef(regulation)
	article = normalizeRef(article)
	keyword = strings.ToLower(strings.TrimSpace(keyword))

	var out []LegalEntry
	for _, e := range c.Entries {
		if regulation != "" && !strings.Contains(normalizeRef(e.Regulation+" "+e.Title), regulation) {
			continue
		}
		if article != "" && normalizeRef(e.Article) != article {
			continue
		}
		if keyword != "" && !entryMentions(e, keyword) {
			continue
		}
		out = append(out, e)
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out
}

func entryMentions(e LegalEntry, keyword string) bool {
	haystack := strings.ToLower(e.Title + " " + e.Summary + " " + strings.Join(e.Keywords, " "))
	for _, word := range strings.Fields(keyword) {
		if !strings.Contains(haystack, word) {
			return false
		}
	}
	return true
}

// normalizeRef makes "UU No. 5 Tahun 2014" and "uu 5/2014" comparable
func normalizeRef(s string) string {
	s = strings.ToLower(s)
	s = strings.NewReplacer(
		"nomor", " ",
		"no.", " ",
		"tahun", "/",
		"pasal", " ",
		".", " ",
	).Replace(s)
	s = strings.Join(strings.Fields(s), " ")
	s = strings.ReplaceAll(s, " /", "/")
	return strings.ReplaceAll(s, "/ ", "/")
}

func legalLookupTool(opts Options) toolexecutor.ToolDefinition {
	return toolexecutor.ToolDefinition{
		Name: ToolLegalLookup,
		Description: "Look up summaries of regulations relevant to government administration. " +
			"Filter by regulation (e.g. 'UU 5/2014'), article (e.g. '87') and/or keyword. At least one filter is required.",
		Parameters: []toolexecutor.ToolParameter{
			{Name: "regulation", Type: "string", Description: "Regulation reference, e.g. PP 94/2021"},
			{Name: "article", Type: "string", Description: "Article number"},
			{Name: "keyword", Type: "string", Description: "Topic keyword, e.g. cuti, pengadaan"},
		},
		Handler: func(ctx context.Context, params map[string]interface{}) (interface{}, error) {
			regulation := stringParam(params, "regulation")
			article := stringParam(params, "article")
			keyword := stringParam(params, "keyword")
			if regulation == "" && article == "" && keyword == "" {
				return nil, fmt.Errorf("provide at least one of regulation, article or keyword")
			}

			entries := opts.Corpus.Lookup(regulation, article, keyword, 5)
			if len(entries) == 0 {
				return "No matching regulation found. Try a broader keyword.", nil
			}
			return entries, nil
		},
	}
}

// DefaultLegalCorpus returns short summaries of commonly cited regulations
func DefaultLegalCorpus() *LegalCorpus {
	return &LegalCorpus{Entries: []LegalEntry{
		{
			Regulation: "UU 5/2014",
			Title:      "Aparatur Sipil Negara",
			Article:    "1",
			Summary:    "Mendefinisikan ASN sebagai profesi bagi PNS dan PPPK yang bekerja pada instansi pemerintah.",
			Keywords:   []string{"asn", "pns", "pppk", "pegawai"},
		},
		{
			Regulation: "UU 20/2023",
			Title:      "Aparatur Sipil Negara",
			Article:    "1",
			Summary:    "Menggantikan UU 5/2014 dan mengatur ulang manajemen ASN, termasuk penataan tenaga non-ASN.",
			Keywords:   []string{"asn", "pegawai", "manajemen", "honorer"},
		},
		{
			Regulation: "PP 94/2021",
			Title:      "Disiplin Pegawai Negeri Sipil",
			Article:    "8",
			Summary:    "Mengatur tingkat hukuman disiplin PNS: ringan, sedang, dan berat.",
			Keywords:   []string{"disiplin", "hukuman", "pns", "pegawai"},
		},
		{
			Regulation: "PP 11/2017",
			Title:      "Manajemen Pegawai Negeri Sipil",
			Article:    "310",
			Summary:    "Mengatur jenis cuti PNS, antara lain cuti tahunan, cuti besar, cuti sakit, dan cuti melahirkan.",
			Keywords:   []string{"cuti", "pns", "pegawai", "kepegawaian"},
		},
		{
			Regulation: "UU 17/2003",
			Title:      "Keuangan Negara",
			Article:    "3",
			Summary:    "Keuangan negara dikelola secara tertib, taat peraturan, efisien, ekonomis, efektif, transparan, dan bertanggung jawab.",
			Keywords:   []string{"anggaran", "keuangan", "apbn"},
		},
		{
			Regulation: "Perpres 16/2018",
			Title:      "Pengadaan Barang/Jasa Pemerintah",
			Article:    "38",
			Summary:    "Metode pemilihan penyedia meliputi e-purchasing, pengadaan langsung, penunjukan langsung, tender cepat, dan tender.",
			Keywords:   []string{"pengadaan", "barang", "jasa", "tender", "penyedia"},
		},
		{
			Regulation: "UU 30/2014",
			Title:      "Administrasi Pemerintahan",
			Article:    "10",
			Summary:    "Menetapkan asas-asas umum pemerintahan yang baik sebagai dasar penyelenggaraan administrasi pemerintahan.",
			Keywords:   []string{"aupb", "administrasi", "keputusan", "pejabat"},
		},
		{
			Regulation: "UU 14/2008",
			Title:      "Keterbukaan Informasi Publik",
			Article:    "17",
			Summary:    "Mengatur kategori informasi publik yang dikecualikan dari kewajiban dibuka kepada pemohon.",
			Keywords:   []string{"informasi", "publik", "keterbukaan", "dikecualikan"},
		},
	}}
}
