package index

import (
	"fmt"
	"sort"
	"strings"

	"TrialSync/internal/domain"
)

// Document types stored in trial collections.
const (
	TypeOverview       = "overview"
	TypeDescriptive    = "descriptive_stats"
	TypeCategorical    = "categorical_stats"
	TypeCorrelations   = "correlations"
	TypeOutliers       = "outliers"
	TypeInsight        = "insight"
	TypeRecommendation = "recommendation"
)

const collectionPrefix = "trial-"

// Document is one embeddable unit derived from an analysis summary.
type Document struct {
	ID       string
	Text     string
	Metadata map[string]string
}

// buildDocuments derives the embeddable set for one analyzed file: an
// overview, one document per populated statistic bucket, and one per
// insight and recommendation. Every id is prefixed with the file name and
// every metadata carries {type, file, trial}, so one file's documents form
// an exactly removable set.
func buildDocuments(trialName, fileName string, summary domain.AnalysisSummary) []Document {
	meta := func(docType string) map[string]string {
		return map[string]string{"type": docType, "file": fileName, "trial": trialName}
	}

	docs := []Document{{
		ID:       fileName + "_overview",
		Text:     overviewText(fileName, summary),
		Metadata: meta(TypeOverview),
	}}

	if len(summary.DescriptiveStats) > 0 {
		docs = append(docs, Document{
			ID:       fileName + "_descriptive_stats",
			Text:     descriptiveText(summary.DescriptiveStats),
			Metadata: meta(TypeDescriptive),
		})
	}
	if len(summary.CategoricalStats) > 0 {
		docs = append(docs, Document{
			ID:       fileName + "_categorical_stats",
			Text:     categoricalText(summary.CategoricalStats),
			Metadata: meta(TypeCategorical),
		})
	}
	if len(summary.Correlations) > 0 {
		docs = append(docs, Document{
			ID:       fileName + "_correlations",
			Text:     correlationsText(summary.Correlations),
			Metadata: meta(TypeCorrelations),
		})
	}
	if len(summary.Outliers) > 0 {
		docs = append(docs, Document{
			ID:       fileName + "_outliers",
			Text:     outliersText(summary.Outliers),
			Metadata: meta(TypeOutliers),
		})
	}

	for i, insight := range summary.Insights {
		docs = append(docs, Document{
			ID:       fmt.Sprintf("%s_insight_%d", fileName, i),
			Text:     insight,
			Metadata: meta(TypeInsight),
		})
	}
	for i, recommendation := range summary.Recommendations {
		docs = append(docs, Document{
			ID:       fmt.Sprintf("%s_recommendation_%d", fileName, i),
			Text:     recommendation,
			Metadata: meta(TypeRecommendation),
		})
	}

	return docs
}

func overviewText(fileName string, summary domain.AnalysisSummary) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Dataset %s: %d rows, %d columns.",
		fileName, summary.Shape.Rows, summary.Shape.Columns)
	if len(summary.Shape.ColumnNames) > 0 {
		fmt.Fprintf(&b, " Columns: %s.", strings.Join(summary.Shape.ColumnNames, ", "))
	}
	fmt.Fprintf(&b, " Missing data: %.2f%% of cells. Duplicate rows: %d.",
		summary.Quality.MissingPercent, summary.Quality.DuplicateRows)
	return b.String()
}

func descriptiveText(stats map[string]domain.ColumnStats) string {
	parts := make([]string, 0, len(stats))
	for _, column := range sortedKeys(stats) {
		s := stats[column]
		parts = append(parts, fmt.Sprintf("%s: mean %.2f, std %.2f, min %.2f, max %.2f, median %.2f (n=%d)",
			column, s.Mean, s.Std, s.Min, s.Max, s.Median, s.Count))
	}
	return "Descriptive statistics. " + strings.Join(parts, "; ")
}

func categoricalText(stats map[string]domain.CategoryStats) string {
	parts := make([]string, 0, len(stats))
	for _, column := range sortedKeys(stats) {
		s := stats[column]
		part := fmt.Sprintf("%s: %d unique values", column, s.UniqueValues)
		if top := topValuesText(s.TopValues); top != "" {
			part += ", most common: " + top
		}
		parts = append(parts, part)
	}
	return "Categorical columns. " + strings.Join(parts, "; ")
}

func topValuesText(values map[string]int) string {
	type pair struct {
		value string
		count int
	}
	pairs := make([]pair, 0, len(values))
	for value, count := range values {
		pairs = append(pairs, pair{value, count})
	}
	sort.Slice(pairs, func(i, j int) bool {
		if pairs[i].count != pairs[j].count {
			return pairs[i].count > pairs[j].count
		}
		return pairs[i].value < pairs[j].value
	})

	parts := make([]string, 0, len(pairs))
	for _, p := range pairs {
		parts = append(parts, fmt.Sprintf("%s (%d)", p.value, p.count))
	}
	return strings.Join(parts, ", ")
}

func correlationsText(correlations []domain.Correlation) string {
	parts := make([]string, 0, len(correlations))
	for _, c := range correlations {
		parts = append(parts, fmt.Sprintf("%s and %s: %.2f", c.ColumnA, c.ColumnB, c.Coefficient))
	}
	return "Notable correlations. " + strings.Join(parts, "; ")
}

func outliersText(outliers []domain.OutlierReport) string {
	parts := make([]string, 0, len(outliers))
	for _, o := range outliers {
		part := fmt.Sprintf("%s: %d outliers", o.Column, o.Count)
		if o.Method != "" {
			part += fmt.Sprintf(" (%s)", o.Method)
		}
		parts = append(parts, part)
	}
	return "Outlier summary. " + strings.Join(parts, "; ")
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for key := range m {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}

// collectionName maps a trial name onto the index's naming rules: lowercase
// [a-z0-9_-] with a namespace prefix that keeps trial collections apart
// from anything else the index may hold.
func collectionName(trialName string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(trialName) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == '-', r == '_':
			b.WriteRune(r)
		default:
			b.WriteRune('-')
		}
	}
	return collectionPrefix + b.String()
}
