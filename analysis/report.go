package analysis

import (
	"fmt"
	"strings"

	"github.com/theimaginaryfoundation/squeeze-o-bot/analysis/fileutils"
)

// WriteReport writes the report as JSON via an atomic rename.
func WriteReport(path string, report AggregatedReport, pretty bool, overwrite bool) error {
	if path == "" {
		return fmt.Errorf("WriteReport: path is empty")
	}
	if err := fileutils.CheckWritable(path, overwrite); err != nil {
		return err
	}
	return fileutils.WriteJSONFileAtomic(path, report, pretty)
}

// WriteMarkdownReport renders the report with RenderMarkdown and writes it atomically.
func WriteMarkdownReport(path string, report AggregatedReport, overwrite bool) error {
	if path == "" {
		return fmt.Errorf("WriteMarkdownReport: path is empty")
	}
	if err := fileutils.CheckWritable(path, overwrite); err != nil {
		return err
	}
	return fileutils.WriteFileAtomicSameDir(path, []byte(RenderMarkdown(report)), 0o644)
}

// RenderMarkdown produces a human-readable summary of the report.
func RenderMarkdown(r AggregatedReport) string {
	var b strings.Builder
	fmt.Fprintf(&b, "# Payload audit %s\n\n", r.AuditDate)

	m := r.ProcessingMetadata
	b.WriteString("| metric | value |\n|---|---|\n")
	fmt.Fprintf(&b, "| records analyzed | %d |\n", r.TotalRecordsAnalyzed)
	fmt.Fprintf(&b, "| chunks processed | %d of %d |\n", r.ChunksProcessed, m.ChunksCreated)
	if r.ChunksFailed > 0 {
		fmt.Fprintf(&b, "| chunks skipped | %d %v |\n", r.ChunksFailed, r.FailedChunks)
	}
	fmt.Fprintf(&b, "| payload size | %.1f KB → %.1f KB (%.1f%% reduction) |\n", m.OriginalPayloadSizeKB, m.FilteredPayloadSizeKB, m.ReductionPercent)
	fmt.Fprintf(&b, "| input tokens used | %d |\n", m.TokenBudgetUtilized)
	fmt.Fprintf(&b, "| context carried between chunks | %v |\n", m.ContextVaryingPatternUsed)

	writeIssues(&b, "High priority issues", r.HighPriorityIssues)
	writeIssues(&b, "Medium priority issues", r.MediumPriorityIssues)

	b.WriteString("\n## Recommendations\n\n")
	if len(r.Recommendations) == 0 {
		b.WriteString("_None._\n")
	}
	for _, rec := range r.Recommendations {
		fmt.Fprintf(&b, "- %s\n", rec)
	}
	return b.String()
}

func writeIssues(b *strings.Builder, title string, issues []Issue) {
	fmt.Fprintf(b, "\n## %s (%d)\n\n", title, len(issues))
	if len(issues) == 0 {
		b.WriteString("_None._\n")
		return
	}
	for _, is := range issues {
		fmt.Fprintf(b, "- **%s** `%s` (%s): %s", is.IssueType, is.RecordID, is.Severity, strings.TrimSpace(is.Description))
		if is.RequiredAction != "" {
			fmt.Fprintf(b, " Action: %s", is.RequiredAction)
		}
		if is.PriorityDays > 0 {
			fmt.Fprintf(b, " (within %d days)", is.PriorityDays)
		}
		b.WriteString("\n")
	}
}
