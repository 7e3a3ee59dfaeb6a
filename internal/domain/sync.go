package domain

import "time"

// maxErrors caps per-run error lists so one bad bucket cannot balloon the
// status payload.
const maxErrors = 50

// SyncError pins one failure to the trial, and optionally the file, it
// happened in.
type SyncError struct {
	TrialName string `json:"trial_name,omitempty"`
	FileName  string `json:"file_name,omitempty"`
	Message   string `json:"message"`
}

// TrialSyncResult aggregates one trial's reconciliation outcome. Transient,
// never persisted.
type TrialSyncResult struct {
	TrialName    string
	NewFiles     int
	UpdatedFiles int
	DeletedFiles int
	SkippedFiles int
	FailedFiles  int
	Errors       []SyncError
}

// AddError appends up to the error cap; later errors are dropped.
func (r *TrialSyncResult) AddError(err SyncError) {
	if len(r.Errors) < maxErrors {
		r.Errors = append(r.Errors, err)
	}
}

// SyncResult aggregates one full reconciliation pass across all trials.
// Surfaced only through scheduler status.
type SyncResult struct {
	RunID        string      `json:"run_id"`
	StartedAt    time.Time   `json:"started_at"`
	CompletedAt  time.Time   `json:"completed_at"`
	TrialsSynced int         `json:"trials_synced"`
	NewFiles     int         `json:"new_files"`
	UpdatedFiles int         `json:"updated_files"`
	DeletedFiles int         `json:"deleted_files"`
	SkippedFiles int         `json:"skipped_files"`
	FailedFiles  int         `json:"failed_files"`
	Errors       []SyncError `json:"errors,omitempty"`
}

// AddError appends up to the error cap; later errors are dropped.
func (r *SyncResult) AddError(err SyncError) {
	if len(r.Errors) < maxErrors {
		r.Errors = append(r.Errors, err)
	}
}

// Merge folds one successfully-listed trial into the pass aggregate.
func (r *SyncResult) Merge(trial TrialSyncResult) {
	r.TrialsSynced++
	r.NewFiles += trial.NewFiles
	r.UpdatedFiles += trial.UpdatedFiles
	r.DeletedFiles += trial.DeletedFiles
	r.SkippedFiles += trial.SkippedFiles
	r.FailedFiles += trial.FailedFiles
	for _, err := range trial.Errors {
		r.AddError(err)
	}
}

// SchedulerStatus is the operator-facing snapshot of the sync loop.
type SchedulerStatus struct {
	IsRunning      bool        `json:"is_running"`
	Paused         bool        `json:"paused"`
	SyncInProgress bool        `json:"sync_in_progress"`
	NextRunTime    *time.Time  `json:"next_run_time,omitempty"`
	LastSync       *SyncResult `json:"last_sync,omitempty"`
}
