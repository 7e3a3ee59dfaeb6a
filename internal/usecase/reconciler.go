package usecase

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"TrialSync/internal/domain"
	"TrialSync/internal/ports"
	"TrialSync/pkg/retry"
)

// ReconcilerDeps wires all driven adapters into the reconciliation engine.
type ReconcilerDeps struct {
	Gateway  ports.ObjectGateway
	Tracking ports.TrackingStore
	Index    ports.SemanticIndex
	Analyzer ports.Analyzer
	WorkDir  string
	Retry    retry.Policy
	Logger   *slog.Logger
}

// Reconciler converges the tracking store and the semantic index toward the
// current contents of object storage. One pass lists every trial, applies
// new and changed files, and reconciles deletions; files are processed
// sequentially so a pass never races itself.
type Reconciler struct {
	gateway  ports.ObjectGateway
	tracking ports.TrackingStore
	index    ports.SemanticIndex
	analyzer ports.Analyzer
	workDir  string
	retry    retry.Policy
	logger   *slog.Logger
}

// NewReconciler constructs the engine.
func NewReconciler(deps ReconcilerDeps) *Reconciler {
	workDir := deps.WorkDir
	if workDir == "" {
		workDir = filepath.Join(os.TempDir(), "trialsync")
	}
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Reconciler{
		gateway:  deps.Gateway,
		tracking: deps.Tracking,
		index:    deps.Index,
		analyzer: deps.Analyzer,
		workDir:  workDir,
		retry:    deps.Retry,
		logger:   logger,
	}
}

// SyncAllTrials runs one full reconciliation pass. Per-trial failures are
// folded into the result; the returned error is reserved for failures that
// prevent the pass from starting at all.
func (r *Reconciler) SyncAllTrials(ctx context.Context) (domain.SyncResult, error) {
	result := domain.SyncResult{
		RunID:     uuid.NewString(),
		StartedAt: time.Now().UTC(),
	}

	trials, err := r.gateway.ListTrials(ctx)
	if err != nil {
		result.CompletedAt = time.Now().UTC()
		return result, fmt.Errorf("list trials: %w", err)
	}

	// A trial whose last file was deleted no longer shows up as a common
	// prefix, but its rows and documents still need deletion reconciliation.
	trackedTrials, err := r.tracking.ListTrialNames(ctx)
	if err != nil {
		r.logger.Warn("list tracked trials failed", "error", err)
		result.AddError(domain.SyncError{Message: fmt.Sprintf("list tracked trials: %v", err)})
	}
	trials = unionTrials(trials, trackedTrials)

	for _, trial := range trials {
		if err := ctx.Err(); err != nil {
			result.AddError(domain.SyncError{Message: fmt.Sprintf("pass canceled: %v", err)})
			break
		}

		trialResult, err := r.SyncTrial(ctx, trial)
		if err != nil {
			r.logger.Warn("trial sync failed", "trial", trial, "error", err)
			result.AddError(domain.SyncError{TrialName: trial, Message: err.Error()})
			continue
		}
		result.Merge(trialResult)
	}

	result.CompletedAt = time.Now().UTC()
	r.logger.Info("sync pass finished",
		"run_id", result.RunID,
		"trials", result.TrialsSynced,
		"new", result.NewFiles,
		"updated", result.UpdatedFiles,
		"deleted", result.DeletedFiles,
		"skipped", result.SkippedFiles,
		"failed", result.FailedFiles)
	return result, nil
}

// unionTrials merges tracked-only trial names into the remote list, keeping
// remote order first.
func unionTrials(remote, tracked []string) []string {
	seen := make(map[string]struct{}, len(remote))
	for _, name := range remote {
		seen[name] = struct{}{}
	}
	for _, name := range tracked {
		if _, ok := seen[name]; !ok {
			remote = append(remote, name)
		}
	}
	return remote
}

// SyncTrial reconciles one trial folder: applies new and changed files,
// skips unchanged ones, and removes tracking for keys gone from storage.
func (r *Reconciler) SyncTrial(ctx context.Context, trialName string) (domain.TrialSyncResult, error) {
	result := domain.TrialSyncResult{TrialName: trialName}

	objects, err := r.gateway.ListFiles(ctx, trialName)
	if err != nil {
		return result, fmt.Errorf("list files for %s: %w", trialName, err)
	}

	remoteKeys := make(map[string]struct{}, len(objects))
	for _, obj := range objects {
		remoteKeys[obj.Key] = struct{}{}
	}

	for _, obj := range objects {
		if ctx.Err() != nil {
			result.AddError(domain.SyncError{TrialName: trialName, Message: "trial pass canceled"})
			break
		}

		existing, found, err := r.tracking.GetByKey(ctx, obj.Bucket, obj.Key)
		if err != nil {
			r.logger.Warn("tracking lookup failed", "trial", trialName, "file", obj.FileName, "error", err)
			result.FailedFiles++
			result.AddError(domain.SyncError{
				TrialName: trialName,
				FileName:  obj.FileName,
				Message:   fmt.Sprintf("tracking lookup: %v", err),
			})
			continue
		}

		switch {
		case !found:
			r.processFile(ctx, obj, false, &result)
		case changed(existing, obj):
			r.processFile(ctx, obj, true, &result)
		default:
			result.SkippedFiles++
		}
	}

	r.reconcileDeletions(ctx, trialName, remoteKeys, &result)
	return result, nil
}

// changed reports whether the remote object differs from its tracked state.
// ETags win when both sides have one; otherwise a strictly newer remote
// timestamp counts as a change. Timestamps compare as instants, so the
// source timezone never matters.
func changed(existing domain.TrackedFile, obj domain.RemoteObject) bool {
	if existing.StorageETag != "" && obj.ETag != "" {
		return existing.StorageETag != obj.ETag
	}
	if obj.LastModified.IsZero() {
		return false
	}
	return obj.LastModified.UTC().After(existing.LastModified.UTC())
}

// processFile downloads, analyzes, and indexes one file, then records the
// outcome on its tracking row. Failures mark the row failed with the
// remote's version markers, so the file is retried only once storage shows
// a newer version.
func (r *Reconciler) processFile(ctx context.Context, obj domain.RemoteObject, updated bool, result *domain.TrialSyncResult) {
	summary, hash, err := r.analyzeRemote(ctx, obj)
	if err != nil {
		r.failFile(ctx, obj, hash, err, result)
		return
	}

	if updated {
		// Stale documents go first so a re-analysis with fewer documents
		// leaves nothing behind.
		if err := r.index.RemoveFile(ctx, obj.TrialName, obj.FileName); err != nil {
			r.failFile(ctx, obj, hash, fmt.Errorf("remove stale documents: %w", err), result)
			return
		}
	}

	if err := r.index.EmbedDataset(ctx, obj.TrialName, obj.FileName, summary); err != nil {
		r.failFile(ctx, obj, hash, fmt.Errorf("index dataset: %w", err), result)
		return
	}

	row := trackedRow(obj, hash, domain.StatusProcessed, "", summary.MetadataExtract())
	if err := r.tracking.Upsert(ctx, row); err != nil {
		r.logger.Warn("tracking upsert failed", "trial", obj.TrialName, "file", obj.FileName, "error", err)
		result.FailedFiles++
		result.AddError(domain.SyncError{
			TrialName: obj.TrialName,
			FileName:  obj.FileName,
			Message:   fmt.Sprintf("tracking upsert: %v", err),
		})
		return
	}

	if updated {
		result.UpdatedFiles++
	} else {
		result.NewFiles++
	}
	r.logger.Info("file processed", "trial", obj.TrialName, "file", obj.FileName, "updated", updated)
}

// analyzeRemote fetches the object to the work directory, hashes it, and
// runs the analyzer. The local copy is deleted on every path.
func (r *Reconciler) analyzeRemote(ctx context.Context, obj domain.RemoteObject) (domain.AnalysisSummary, string, error) {
	var summary domain.AnalysisSummary

	destDir := filepath.Join(r.workDir, obj.TrialName)
	var localPath string
	err := retry.Do(ctx, r.retry, func() error {
		var dErr error
		localPath, dErr = r.gateway.Download(ctx, obj.Key, destDir)
		return dErr
	})
	if err != nil {
		return summary, "", fmt.Errorf("download: %w", err)
	}
	defer func() {
		if rmErr := os.Remove(localPath); rmErr != nil && !os.IsNotExist(rmErr) {
			r.logger.Warn("remove local copy failed", "path", localPath, "error", rmErr)
		}
	}()

	hash, err := r.gateway.ContentHash(localPath)
	if err != nil {
		return summary, "", fmt.Errorf("hash content: %w", err)
	}

	err = retry.Do(ctx, r.retry, func() error {
		var aErr error
		summary, aErr = r.analyzer.Analyze(ctx, localPath, obj.FileName)
		return aErr
	})
	if err != nil {
		return summary, hash, fmt.Errorf("analyze: %w", err)
	}
	return summary, hash, nil
}

// failFile counts the failure and persists a failed row carrying the
// remote's etag and timestamp. A canceled pass must not pin files as
// failed, so no row is written once the context is done.
func (r *Reconciler) failFile(ctx context.Context, obj domain.RemoteObject, hash string, cause error, result *domain.TrialSyncResult) {
	r.logger.Warn("file processing failed", "trial", obj.TrialName, "file", obj.FileName, "error", cause)
	result.FailedFiles++
	result.AddError(domain.SyncError{
		TrialName: obj.TrialName,
		FileName:  obj.FileName,
		Message:   cause.Error(),
	})

	if ctx.Err() != nil {
		return
	}
	row := trackedRow(obj, hash, domain.StatusFailed, cause.Error(), nil)
	if err := r.tracking.Upsert(ctx, row); err != nil {
		r.logger.Warn("failed-row upsert failed", "trial", obj.TrialName, "file", obj.FileName, "error", err)
	}
}

// reconcileDeletions removes tracking and index documents for keys that are
// tracked but no longer listed. Each candidate is re-checked against storage
// before removal so a short listing never wipes live files.
func (r *Reconciler) reconcileDeletions(ctx context.Context, trialName string, remoteKeys map[string]struct{}, result *domain.TrialSyncResult) {
	tracked, err := r.tracking.GetByTrial(ctx, trialName)
	if err != nil {
		r.logger.Warn("load tracked files failed", "trial", trialName, "error", err)
		result.AddError(domain.SyncError{
			TrialName: trialName,
			Message:   fmt.Sprintf("load tracked files: %v", err),
		})
		return
	}

	for _, row := range tracked {
		if _, ok := remoteKeys[row.StorageKey]; ok {
			continue
		}

		exists, err := r.gateway.Exists(ctx, row.StorageKey)
		if err != nil {
			r.logger.Warn("existence check failed", "trial", trialName, "key", row.StorageKey, "error", err)
			result.AddError(domain.SyncError{
				TrialName: trialName,
				FileName:  row.FileName,
				Message:   fmt.Sprintf("existence check: %v", err),
			})
			continue
		}
		if exists {
			r.logger.Debug("key absent from listing but still present", "trial", trialName, "key", row.StorageKey)
			continue
		}

		// Index removal failures are logged but never block the row
		// delete; orphaned documents get cleaned up on a later pass.
		if err := r.index.RemoveFile(ctx, trialName, row.FileName); err != nil {
			r.logger.Warn("index removal failed", "trial", trialName, "file", row.FileName, "error", err)
			result.AddError(domain.SyncError{
				TrialName: trialName,
				FileName:  row.FileName,
				Message:   fmt.Sprintf("index removal: %v", err),
			})
		}

		if err := r.tracking.DeleteByKey(ctx, row.StorageBucket, row.StorageKey); err != nil {
			r.logger.Warn("tracking delete failed", "trial", trialName, "key", row.StorageKey, "error", err)
			result.AddError(domain.SyncError{
				TrialName: trialName,
				FileName:  row.FileName,
				Message:   fmt.Sprintf("tracking delete: %v", err),
			})
			continue
		}

		result.DeletedFiles++
		r.logger.Info("file removed", "trial", trialName, "file", row.FileName)
	}
}

func trackedRow(obj domain.RemoteObject, hash string, status domain.FileStatus, errMsg string, metadata *domain.AnalysisMetadata) domain.TrackedFile {
	return domain.TrackedFile{
		TrialName:        obj.TrialName,
		StorageBucket:    obj.Bucket,
		StorageKey:       obj.Key,
		FileName:         obj.FileName,
		ContentHash:      hash,
		StorageETag:      obj.ETag,
		FileSize:         obj.Size,
		LastModified:     obj.LastModified,
		ProcessedAt:      time.Now().UTC(),
		Status:           status,
		ErrorMessage:     errMsg,
		AnalysisMetadata: metadata,
	}
}
