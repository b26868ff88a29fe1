package orchestrator

import (
	"github.com/harun/sigap/pkg/coretools"
	"github.com/harun/sigap/pkg/toolexecutor"
)

func allow(tools ...string) toolexecutor.ToolPolicy {
	return toolexecutor.ToolPolicy{Allow: tools}
}

// DefaultAgents returns the built-in specialist catalog
func DefaultAgents() []AgentConfig {
	return []AgentConfig{
		{
			ID:          "anggaran",
			Name:        "Analis Anggaran",
			Description: "Perhitungan anggaran, biaya perjalanan dinas, realisasi dan pagu",
			Mode:        ModeReAct,
			Keywords:    []string{"anggaran", "biaya", "dana", "belanja", "pagu", "realisasi", "rupiah", "honorarium", "uang harian", "apbn", "apbd", "dipa"},
			SystemPrompt: "Anda Analis Anggaran pada instansi pemerintah. Hitung angka dengan alat calculator, " +
				"sebutkan asumsi yang dipakai, dan rujuk pedoman anggaran bila relevan.",
			Tools: allow(coretools.ToolCalculator, coretools.ToolTableAnalysis, coretools.ToolSearch),
		},
		{
			ID:          "kepegawaian",
			Name:        "Analis Kepegawaian",
			Description: "Cuti, kenaikan pangkat, mutasi, dan aturan ASN",
			Mode:        ModeReAct,
			Keywords:    []string{"pegawai", "asn", "pns", "pppk", "cuti", "pangkat", "mutasi", "jabatan", "nip", "kepegawaian", "pensiun"},
			SystemPrompt: "Anda Analis Kepegawaian. Jawab berdasarkan peraturan ASN dan dokumen internal; " +
				"hitung tanggal dengan alat date_schedule bila diperlukan.",
			Tools: allow(coretools.ToolSearch, coretools.ToolLegalLookup, coretools.ToolDateSchedule),
		},
		{
			ID:          "hukum",
			Name:        "Analis Hukum",
			Description: "Dasar hukum, pasal, dan regulasi",
			Mode:        ModeReAct,
			Keywords:    []string{"regulasi", "peraturan", "undang-undang", "uu", "pp", "perpres", "pasal", "hukum", "dasar hukum", "ketentuan"},
			SystemPrompt: "Anda Analis Hukum. Kutip regulasi dan pasal yang tepat dengan alat legal_lookup; " +
				"jangan mengarang nomor peraturan.",
			Tools: allow(coretools.ToolLegalLookup, coretools.ToolSearch),
		},
		{
			ID:          "persuratan",
			Name:        "Staf Persuratan",
			Description: "Nota dinas, surat undangan, dan laporan singkat",
			Mode:        ModeReAct,
			Keywords:    []string{"surat", "nota dinas", "undangan", "memo", "disposisi", "laporan", "draf", "konsep surat"},
			SystemPrompt: "Anda Staf Persuratan. Susun naskah dinas dengan alat document_template " +
				"dan isi field yang tersedia dari pertanyaan serta hasil langkah sebelumnya.",
			Tools: allow(coretools.ToolDocumentTemplate, coretools.ToolDateSchedule),
		},
		{
			ID:           "jadwal",
			Name:         "Pengelola Jadwal",
			Description:  "Tenggat, hari kerja, dan jadwal rapat",
			Mode:         ModeReAct,
			Keywords:     []string{"jadwal", "rapat", "tenggat", "deadline", "tanggal", "hari kerja", "agenda", "kalender"},
			SystemPrompt: "Anda Pengelola Jadwal. Gunakan alat date_schedule untuk semua perhitungan tanggal.",
			Tools:        allow(coretools.ToolDateSchedule),
			Requires:     []string{"date"},
		},
		{
			ID:           "data",
			Name:         "Analis Data",
			Description:  "Rekap tabel, statistik, dan perbandingan angka",
			Mode:         ModeReAct,
			Keywords:     []string{"tabel", "csv", "data", "rata-rata", "statistik", "rekap", "grafik", "persentase"},
			SystemPrompt: "Anda Analis Data. Olah tabel dengan alat table_analysis dan sajikan angka secara ringkas.",
			Tools:        allow(coretools.ToolTableAnalysis, coretools.ToolCalculator),
		},
		{
			ID:           "ringkasan",
			Name:         "Perangkum",
			Description:  "Ringkasan dan kesimpulan",
			Mode:         ModeDirect,
			Keywords:     []string{"ringkas", "rangkum", "ringkasan", "kesimpulan", "simpulkan", "intisari"},
			SystemPrompt: "Anda Perangkum. Buat ringkasan yang padat dan setia pada bahan yang diberikan.",
		},
	}
}
