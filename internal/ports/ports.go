package ports

import (
	"context"
	"time"

	"TrialSync/internal/domain"
)

// ObjectGateway reads trial folders and dataset files from object storage.
// It performs no retries; retry policy belongs to the caller.
type ObjectGateway interface {
	ListTrials(ctx context.Context) ([]string, error)
	ListFiles(ctx context.Context, trialName string) ([]domain.RemoteObject, error)
	Download(ctx context.Context, key, destDir string) (string, error)
	ContentHash(localPath string) (string, error)
	Exists(ctx context.Context, key string) (bool, error)
}

// TrackingStore is the durable ledger of per-file processing state, keyed
// by (bucket, key).
type TrackingStore interface {
	GetByKey(ctx context.Context, bucket, key string) (domain.TrackedFile, bool, error)
	GetByTrial(ctx context.Context, trialName string, statuses ...domain.FileStatus) ([]domain.TrackedFile, error)
	Upsert(ctx context.Context, file domain.TrackedFile) error
	DeleteByKey(ctx context.Context, bucket, key string) error
	ListTrialNames(ctx context.Context) ([]string, error)
}

// SemanticIndex maintains per-trial document collections with file-scoped
// document ids.
type SemanticIndex interface {
	GetOrCreateCollection(ctx context.Context, trialName string) (string, error)
	EmbedDataset(ctx context.Context, trialName, fileName string, summary domain.AnalysisSummary) error
	RemoveFile(ctx context.Context, trialName, fileName string) error
	Retrieve(ctx context.Context, trialName, query string, topK int, includeTypes ...string) ([]domain.ScoredDocument, error)
	CollectionStats(ctx context.Context, trialName string) (domain.CollectionStats, error)
	ListTrials(ctx context.Context) ([]string, error)
	DeleteCollection(ctx context.Context, trialName string) error
}

// Analyzer turns a downloaded dataset into a structured summary.
type Analyzer interface {
	Analyze(ctx context.Context, localPath, fileName string) (domain.AnalysisSummary, error)
}

// Embedder produces vector embeddings for document texts, one per input,
// in input order.
type Embedder interface {
	EmbedTexts(ctx context.Context, texts []string) ([][]float32, error)
}

// SyncDriver fires the recurring job that launches reconciliation passes.
type SyncDriver interface {
	Start(ctx context.Context, job func(time.Time)) error
	Stop(ctx context.Context) error
}
