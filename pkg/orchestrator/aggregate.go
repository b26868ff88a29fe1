package orchestrator

import (
	"fmt"
	"strings"
)

// Aggregate composes the user-facing answer of a finished plan. Every
// section is attributed to its agent, and failed steps come with guidance.
func Aggregate(plan WorkflowPlan) string {
	if plan.Type == WorkflowSingle && len(plan.Steps) == 1 {
		step := plan.Steps[0]
		if step.Status == StepCompleted {
			return step.Contribution
		}
		return fmt.Sprintf("%s tidak dapat menyelesaikan permintaan ini: %s. Langkah berikutnya: %s",
			step.DisplayName, step.Error, guidance(step.Error))
	}

	var sb strings.Builder
	var failed []int

	for i, step := range plan.Steps {
		fmt.Fprintf(&sb, "### %d. %s (%s)\n", i+1, step.DisplayName, statusLabel(step))
		if step.Status == StepCompleted {
			sb.WriteString(step.Contribution)
		} else {
			failed = append(failed, i)
			fmt.Fprintf(&sb, "Langkah ini gagal: %s", step.Error)
		}
		sb.WriteString("\n\n")
	}

	if len(failed) > 0 {
		sb.WriteString("---\n")
		if plan.TimedOut {
			sb.WriteString("Hasil ini parsial karena alur kerja melewati batas waktu.\n")
		}
		sb.WriteString("Langkah yang gagal:\n")
		for _, i := range failed {
			step := plan.Steps[i]
			fmt.Fprintf(&sb, "- Langkah %d (%s): %s. Langkah berikutnya: %s\n",
				i+1, step.DisplayName, step.Error, guidance(step.Error))
		}
	}

	return strings.TrimSpace(sb.String())
}

func statusLabel(step AgentStep) string {
	switch {
	case step.Status == StepCompleted && step.UpstreamFailure:
		return "selesai, dengan kegagalan pada langkah sebelumnya"
	case step.Status == StepCompleted:
		return "selesai"
	case step.Status == StepFailed:
		return "gagal"
	default:
		return string(step.Status)
	}
}

func guidance(errText string) string {
	switch {
	case strings.Contains(errText, "missing required input"):
		return "lengkapi informasi yang diminta lalu kirim ulang pertanyaan."
	case strings.Contains(errText, ErrWorkflowTimeout.Error()):
		return "proses melewati batas waktu; ajukan pertanyaan yang lebih sempit atau coba lagi."
	case strings.Contains(errText, "cancelled"):
		return "permintaan dibatalkan; kirim ulang bila masih diperlukan."
	case strings.Contains(errText, "max_iterations_reached"):
		return "pecah pertanyaan menjadi beberapa bagian yang lebih kecil."
	default:
		return "coba lagi beberapa saat lagi, atau hubungi admin sistem bila masalah berlanjut."
	}
}
