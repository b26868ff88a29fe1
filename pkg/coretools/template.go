package coretools

import (
	"bytes"
	"context"
	"fmt"
	"sort"
	"strings"
	"text/template"

	"github.com/harun/sigap/pkg/toolexecutor"
)

type documentTemplate struct {
	required []string
	tmpl     *template.Template
}

var monthNames = []string{
	"Januari", "Februari", "Maret", "April", "Mei", "Juni",
	"Juli", "Agustus", "September", "Oktober", "November", "Desember",
}

var documentTemplates = map[string]documentTemplate{
	"nota_dinas": {
		required: []string{"kepada", "dari", "perihal", "isi"},
		tmpl: template.Must(template.New("nota_dinas").Parse(`NOTA DINAS
Nomor   : {{or .nomor "...."}}
Kepada  : {{.kepada}}
Dari    : {{.dari}}
Tanggal : {{.tanggal}}
Perihal : {{.perihal}}

{{.isi}}

Demikian disampaikan, atas perhatiannya diucapkan terima kasih.

{{.dari}}
`)),
	},
	"surat_undangan": {
		required: []string{"kepada", "acara", "hari_tanggal", "waktu", "tempat", "penandatangan"},
		tmpl: template.Must(template.New("surat_undangan").Parse(`Nomor   : {{or .nomor "...."}}
Perihal : Undangan {{.acara}}

Yth. {{.kepada}}

Dengan hormat, kami mengundang Bapak/Ibu untuk hadir pada:
Acara        : {{.acara}}
Hari/Tanggal : {{.hari_tanggal}}
Waktu        : {{.waktu}}
Tempat       : {{.tempat}}

Atas perhatian dan kehadirannya kami ucapkan terima kasih.

{{.tanggal}}
{{.penandatangan}}
`)),
	},
	"laporan_singkat": {
		required: []string{"judul", "ringkasan"},
		tmpl: template.Must(template.New("laporan_singkat").Parse(`LAPORAN SINGKAT
{{.judul}}
Tanggal: {{.tanggal}}

I. Ringkasan
{{.ringkasan}}
{{if .temuan}}
II. Temuan
{{.temuan}}
{{end}}{{if .rekomendasi}}
III. Rekomendasi
{{.rekomendasi}}
{{end}}`)),
	},
}

// TemplateNames lists the available document templates
func TemplateNames() []string {
	names := make([]string, 0, len(documentTemplates))
	for name := range documentTemplates {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func documentTemplateTool(opts Options) toolexecutor.ToolDefinition {
	return toolexecutor.ToolDefinition{
		Name: ToolDocumentTemplate,
		Description: "Render an official document draft. Templates: nota_dinas (kepada, dari, perihal, isi), " +
			"surat_undangan (kepada, acara, hari_tanggal, waktu, tempat, penandatangan), " +
			"laporan_singkat (judul, ringkasan, optional temuan, rekomendasi). Optional fields: nomor, tanggal.",
		Parameters: []toolexecutor.ToolParameter{
			{Name: "template", Type: "string", Description: "Template name", Required: true, Enum: TemplateNames()},
			{Name: "fields", Type: "object", Description: "Template fields as key/value strings", Required: true},
		},
		Handler: func(ctx context.Context, params map[string]interface{}) (interface{}, error) {
			name := stringParam(params, "template")
			fields := toStringMap(params["fields"])
			return renderDocument(name, fields, opts)
		},
	}
}

func renderDocument(name string, fields map[string]string, opts Options) (string, error) {
	tpl, ok := documentTemplates[name]
	if !ok {
		return "", fmt.Errorf("unknown template %q (available: %s)", name, strings.Join(TemplateNames(), ", "))
	}
	if fields == nil {
		fields = map[string]string{}
	}

	var missing []string
	for _, key := range tpl.required {
		if strings.TrimSpace(fields[key]) == "" {
			missing = append(missing, key)
		}
	}
	if len(missing) > 0 {
		return "", fmt.Errorf("missing required fields for %s: %s", name, strings.Join(missing, ", "))
	}

	if fields["tanggal"] == "" {
		now := opts.Now().In(opts.Location)
		fields["tanggal"] = fmt.Sprintf("%d %s %d", now.Day(), monthNames[now.Month()-1], now.Year())
	}

	var buf bytes.Buffer
	if err := tpl.tmpl.Execute(&buf, fields); err != nil {
		return "", fmt.Errorf("failed to render %s: %w", name, err)
	}
	return buf.String(), nil
}
