package objectstore

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"net/http"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"TrialSync/internal/config"
	"TrialSync/internal/domain"
	"TrialSync/internal/ports"
)

const hashChunkSize = 64 * 1024

// Gateway reads trial folders and dataset files from an S3-compatible
// bucket. It performs no retries; callers own the retry policy.
type Gateway struct {
	client     *minio.Client
	bucket     string
	basePrefix string
	extensions map[string]struct{}
}

var _ ports.ObjectGateway = (*Gateway)(nil)

// New connects a minio client from storage configuration.
func New(cfg config.StorageConfig) (*Gateway, error) {
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("connect storage: %w", err)
	}
	return NewWithClient(client, cfg), nil
}

// NewWithClient wires an existing client; tests use it directly.
func NewWithClient(client *minio.Client, cfg config.StorageConfig) *Gateway {
	extensions := make(map[string]struct{}, len(cfg.Extensions))
	for _, ext := range cfg.Extensions {
		ext = strings.ToLower(strings.TrimSpace(ext))
		if ext == "" {
			continue
		}
		if !strings.HasPrefix(ext, ".") {
			ext = "." + ext
		}
		extensions[ext] = struct{}{}
	}
	if len(extensions) == 0 {
		extensions[".csv"] = struct{}{}
	}

	return &Gateway{
		client:     client,
		bucket:     cfg.Bucket,
		basePrefix: normalizePrefix(cfg.BasePrefix),
		extensions: extensions,
	}
}

// ListTrials returns trial folder names found as common prefixes under the
// base prefix.
func (g *Gateway) ListTrials(ctx context.Context) ([]string, error) {
	opts := minio.ListObjectsOptions{Prefix: g.basePrefix}

	var trials []string
	for obj := range g.client.ListObjects(ctx, g.bucket, opts) {
		if obj.Err != nil {
			return nil, fmt.Errorf("list trials: %w", obj.Err)
		}
		if !strings.HasSuffix(obj.Key, "/") {
			continue
		}
		if name := trialNameFromPrefix(obj.Key, g.basePrefix); name != "" {
			trials = append(trials, name)
		}
	}
	return trials, nil
}

// ListFiles returns the eligible dataset objects under one trial's prefix.
func (g *Gateway) ListFiles(ctx context.Context, trialName string) ([]domain.RemoteObject, error) {
	opts := minio.ListObjectsOptions{
		Prefix:    g.basePrefix + trialName + "/",
		Recursive: true,
	}

	var files []domain.RemoteObject
	for obj := range g.client.ListObjects(ctx, g.bucket, opts) {
		if obj.Err != nil {
			return nil, fmt.Errorf("list files for %s: %w", trialName, obj.Err)
		}
		if strings.HasSuffix(obj.Key, "/") || !g.eligible(obj.Key) {
			continue
		}
		files = append(files, domain.RemoteObject{
			Bucket:       g.bucket,
			Key:          obj.Key,
			FileName:     path.Base(obj.Key),
			TrialName:    trialName,
			Size:         obj.Size,
			LastModified: obj.LastModified,
			ETag:         normalizeETag(obj.ETag),
		})
	}
	return files, nil
}

// Download fetches one object into destDir, creating the directory if absent.
func (g *Gateway) Download(ctx context.Context, key, destDir string) (string, error) {
	if err := os.MkdirAll(destDir, 0o755); err != nil {
		return "", fmt.Errorf("create destination dir: %w", err)
	}

	localPath := filepath.Join(destDir, path.Base(key))
	if err := g.client.FGetObject(ctx, g.bucket, key, localPath, minio.GetObjectOptions{}); err != nil {
		return "", fmt.Errorf("download %s: %w", key, err)
	}
	return localPath, nil
}

// ContentHash streams the file through sha256 in fixed-size chunks, keeping
// memory constant regardless of file size.
func (g *Gateway) ContentHash(localPath string) (string, error) {
	f, err := os.Open(localPath)
	if err != nil {
		return "", fmt.Errorf("open %s: %w", localPath, err)
	}
	defer f.Close()

	h := sha256.New()
	buf := make([]byte, hashChunkSize)
	if _, err := io.CopyBuffer(h, f, buf); err != nil {
		return "", fmt.Errorf("hash %s: %w", localPath, err)
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// Exists reports whether the object is currently present in the bucket.
func (g *Gateway) Exists(ctx context.Context, key string) (bool, error) {
	_, err := g.client.StatObject(ctx, g.bucket, key, minio.StatObjectOptions{})
	if err != nil {
		resp := minio.ToErrorResponse(err)
		if resp.Code == "NoSuchKey" || resp.StatusCode == http.StatusNotFound {
			return false, nil
		}
		return false, fmt.Errorf("stat %s: %w", key, err)
	}
	return true, nil
}

func (g *Gateway) eligible(key string) bool {
	_, ok := g.extensions[strings.ToLower(path.Ext(key))]
	return ok
}

func normalizePrefix(prefix string) string {
	prefix = strings.TrimPrefix(strings.TrimSpace(prefix), "/")
	if prefix == "" {
		return ""
	}
	if !strings.HasSuffix(prefix, "/") {
		prefix += "/"
	}
	return prefix
}

func trialNameFromPrefix(key, basePrefix string) string {
	name := strings.TrimPrefix(key, basePrefix)
	return strings.TrimSuffix(name, "/")
}

func normalizeETag(etag string) string {
	return strings.Trim(etag, `"`)
}
