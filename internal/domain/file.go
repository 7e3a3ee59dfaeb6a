package domain

import "time"

// FileStatus enumerates the tracked processing outcomes for one stored file.
type FileStatus string

const (
	StatusProcessed FileStatus = "processed"
	StatusFailed    FileStatus = "failed"
	StatusPending   FileStatus = "pending"
)

// RemoteObject is one listing entry from object storage. Object storage is
// the source of truth: the RemoteObject set for a trial defines the state
// its tracking rows must converge to.
type RemoteObject struct {
	Bucket       string
	Key          string
	FileName     string
	TrialName    string
	Size         int64
	LastModified time.Time
	ETag         string
}

// TrackedFile is the durable ledger row for one object-storage file,
// unique per (StorageBucket, StorageKey).
type TrackedFile struct {
	TrialName        string
	StorageBucket    string
	StorageKey       string
	FileName         string
	ContentHash      string
	StorageETag      string
	FileSize         int64
	LastModified     time.Time
	ProcessedAt      time.Time
	Status           FileStatus
	ErrorMessage     string
	AnalysisMetadata *AnalysisMetadata
}
