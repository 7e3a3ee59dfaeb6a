package index

import (
	"reflect"
	"strings"
	"testing"

	"TrialSync/internal/domain"
)

func sampleSummary() domain.AnalysisSummary {
	return domain.AnalysisSummary{
		Shape: domain.DatasetShape{
			Rows:        120,
			Columns:     3,
			ColumnNames: []string{"age", "arm", "bmi"},
		},
		DescriptiveStats: map[string]domain.ColumnStats{
			"bmi": {Count: 120, Mean: 27.4, Std: 4.1, Min: 17.9, Max: 41.2, Median: 26.8},
			"age": {Count: 120, Mean: 54.2, Std: 12.1, Min: 18, Max: 88, Median: 55},
		},
		CategoricalStats: map[string]domain.CategoryStats{
			"arm": {UniqueValues: 2, TopValues: map[string]int{"placebo": 58, "treatment": 62}},
		},
		Correlations: []domain.Correlation{
			{ColumnA: "age", ColumnB: "bmi", Coefficient: 0.31},
		},
		Outliers: []domain.OutlierReport{
			{Column: "bmi", Count: 4, Method: "iqr"},
		},
		Quality:         domain.DataQuality{MissingPercent: 1.5, DuplicateRows: 2},
		Insights:        []string{"BMI skews high in the treatment arm."},
		Recommendations: []string{"Review duplicate subject rows before modeling."},
	}
}

func TestBuildDocumentsCoversEveryBucket(t *testing.T) {
	t.Parallel()

	docs := buildDocuments("oncology-a", "demographics.csv", sampleSummary())

	wantIDs := []string{
		"demographics.csv_overview",
		"demographics.csv_descriptive_stats",
		"demographics.csv_categorical_stats",
		"demographics.csv_correlations",
		"demographics.csv_outliers",
		"demographics.csv_insight_0",
		"demographics.csv_recommendation_0",
	}
	if len(docs) != len(wantIDs) {
		t.Fatalf("expected %d documents, got %d", len(wantIDs), len(docs))
	}
	for i, doc := range docs {
		if doc.ID != wantIDs[i] {
			t.Fatalf("document %d: expected id %s, got %s", i, wantIDs[i], doc.ID)
		}
		if !strings.HasPrefix(doc.ID, "demographics.csv_") {
			t.Fatalf("document id %s is not file-prefixed", doc.ID)
		}
		if doc.Metadata["file"] != "demographics.csv" {
			t.Fatalf("document %s: missing file metadata", doc.ID)
		}
		if doc.Metadata["trial"] != "oncology-a" {
			t.Fatalf("document %s: missing trial metadata", doc.ID)
		}
		if doc.Metadata["type"] == "" {
			t.Fatalf("document %s: missing type metadata", doc.ID)
		}
		if doc.Text == "" {
			t.Fatalf("document %s: empty text", doc.ID)
		}
	}
}

func TestBuildDocumentsIsDeterministic(t *testing.T) {
	t.Parallel()

	first := buildDocuments("oncology-a", "demographics.csv", sampleSummary())
	second := buildDocuments("oncology-a", "demographics.csv", sampleSummary())

	if !reflect.DeepEqual(first, second) {
		t.Fatal("repeated derivation produced different documents")
	}
}

func TestBuildDocumentsSkipsEmptyBuckets(t *testing.T) {
	t.Parallel()

	summary := domain.AnalysisSummary{
		Shape:   domain.DatasetShape{Rows: 10, Columns: 1, ColumnNames: []string{"id"}},
		Quality: domain.DataQuality{},
	}

	docs := buildDocuments("oncology-a", "ids.csv", summary)
	if len(docs) != 1 {
		t.Fatalf("expected only the overview document, got %d", len(docs))
	}
	if docs[0].ID != "ids.csv_overview" {
		t.Fatalf("unexpected document id: %s", docs[0].ID)
	}
}

func TestDescriptiveTextOrdersColumns(t *testing.T) {
	t.Parallel()

	text := descriptiveText(sampleSummary().DescriptiveStats)
	ageAt := strings.Index(text, "age:")
	bmiAt := strings.Index(text, "bmi:")
	if ageAt < 0 || bmiAt < 0 || ageAt > bmiAt {
		t.Fatalf("columns are not sorted: %s", text)
	}
}

func TestTopValuesTextOrdersByCount(t *testing.T) {
	t.Parallel()

	text := topValuesText(map[string]int{"placebo": 58, "treatment": 62})
	if text != "treatment (62), placebo (58)" {
		t.Fatalf("unexpected top values ordering: %s", text)
	}
}

func TestCollectionName(t *testing.T) {
	t.Parallel()

	cases := []struct {
		in   string
		want string
	}{
		{"oncology-a", "trial-oncology-a"},
		{"Oncology A", "trial-oncology-a"},
		{"phase_2/EU", "trial-phase_2-eu"},
		{"trial.2024", "trial-trial-2024"},
	}
	for _, tc := range cases {
		if got := collectionName(tc.in); got != tc.want {
			t.Fatalf("collectionName(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}
