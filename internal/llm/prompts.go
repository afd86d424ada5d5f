package llm

import (
	_ "embed"
	"strings"

	"chart-analysis-backend/internal/analyses"
)

var (
	//go:embed prompts/analysis.txt
	analysisPrompt string
	//go:embed prompts/annotation.txt
	annotationPrompt string
)

// AnalysisInstruction returns the message text sent with the chart image.
func AnalysisInstruction(date string) string {
	return strings.ReplaceAll(analysisPrompt, "{{DATE}}", date)
}

// SummaryText renders layer 3 as a bulleted list followed by the primary
// message.
func SummaryText(l analyses.Layer3) string {
	var b strings.Builder
	for _, line := range l.SummaryLines() {
		b.WriteString("- ")
		b.WriteString(line)
		b.WriteString("\n")
	}
	if l.PrimaryMessage != nil && strings.TrimSpace(*l.PrimaryMessage) != "" {
		if b.Len() > 0 {
			b.WriteString("\n")
		}
		b.WriteString(strings.TrimSpace(*l.PrimaryMessage))
	}
	return strings.TrimSpace(b.String())
}

// AnnotationInstruction returns the image-edit request text for summary.
func AnnotationInstruction(summary analyses.Layer3) string {
	return strings.ReplaceAll(annotationPrompt, "{{SUMMARY}}", SummaryText(summary))
}
