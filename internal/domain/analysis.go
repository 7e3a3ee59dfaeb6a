package domain

// DatasetShape describes the rectangular footprint of an analyzed dataset.
type DatasetShape struct {
	Rows        int      `json:"rows"`
	Columns     int      `json:"columns"`
	ColumnNames []string `json:"column_names"`
}

// ColumnStats carries descriptive statistics for one numeric column.
type ColumnStats struct {
	Count  int     `json:"count"`
	Mean   float64 `json:"mean"`
	Std    float64 `json:"std"`
	Min    float64 `json:"min"`
	Max    float64 `json:"max"`
	Median float64 `json:"median"`
}

// CategoryStats summarizes one categorical column.
type CategoryStats struct {
	UniqueValues int            `json:"unique_values"`
	TopValues    map[string]int `json:"top_values"`
}

// Correlation is one notable pairwise relation between numeric columns.
type Correlation struct {
	ColumnA     string  `json:"column_a"`
	ColumnB     string  `json:"column_b"`
	Coefficient float64 `json:"coefficient"`
}

// OutlierReport counts outliers detected in one column.
type OutlierReport struct {
	Column string `json:"column"`
	Count  int    `json:"count"`
	Method string `json:"method"`
}

// DataQuality aggregates dataset-level quality indicators.
type DataQuality struct {
	MissingPercent float64 `json:"missing_percent"`
	DuplicateRows  int     `json:"duplicate_rows"`
}

// AnalysisSummary is the analyzer's structured output for one file. The
// pipeline treats it as opaque beyond the compact extract and the document
// derivation in the semantic index.
type AnalysisSummary struct {
	Shape            DatasetShape             `json:"shape"`
	DescriptiveStats map[string]ColumnStats   `json:"descriptive_stats"`
	CategoricalStats map[string]CategoryStats `json:"categorical_stats"`
	Correlations     []Correlation            `json:"correlations"`
	Outliers         []OutlierReport          `json:"outliers"`
	Quality          DataQuality              `json:"quality"`
	Insights         []string                 `json:"insights"`
	Recommendations  []string                 `json:"recommendations"`
}

// AnalysisMetadata is the compact extract persisted with a tracking row,
// never the full analysis payload.
type AnalysisMetadata struct {
	RowCount       int     `json:"row_count"`
	ColumnCount    int     `json:"column_count"`
	MissingPercent float64 `json:"missing_percent"`
	DuplicateRows  int     `json:"duplicate_rows"`
}

// MetadataExtract reduces the summary to the footprint stored on the row.
func (s AnalysisSummary) MetadataExtract() *AnalysisMetadata {
	return &AnalysisMetadata{
		RowCount:       s.Shape.Rows,
		ColumnCount:    s.Shape.Columns,
		MissingPercent: s.Quality.MissingPercent,
		DuplicateRows:  s.Quality.DuplicateRows,
	}
}
