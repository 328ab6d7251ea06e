package r2s3

import (
	"context"
	"fmt"
	"io"
	"log"
	"os"
	"path"
	"path/filepath"
	"strings"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"
)

type Stats struct {
	UploadSuccessTotal uint64
	UploadFailTotal    uint64
	RetryTotal         uint64
	BytesTotal         uint64
}

// Uploader copies export artifacts under <prefix>/<run id>/ in the bucket,
// keyed by their path relative to baseDir.
type Uploader struct {
	client  *Client
	baseDir string
	prefix  string
	workers int
	logger  *log.Logger

	maxAttempts int
	backoff     func(attempt int) time.Duration

	uploadSuccessTotal atomic.Uint64
	uploadFailTotal    atomic.Uint64
	retryTotal         atomic.Uint64
	bytesTotal         atomic.Uint64
}

func NewUploader(client *Client, baseDir, prefix string, workers int, logger *log.Logger) *Uploader {
	if workers <= 0 {
		workers = 2
	}
	return &Uploader{
		client:      client,
		baseDir:     baseDir,
		prefix:      strings.Trim(strings.ReplaceAll(prefix, "\\", "/"), "/"),
		workers:     workers,
		logger:      logger,
		maxAttempts: 4,
		backoff: func(attempt int) time.Duration {
			return time.Duration(attempt*attempt) * 200 * time.Millisecond
		},
	}
}

func (u *Uploader) Stats() Stats {
	if u == nil {
		return Stats{}
	}
	return Stats{
		UploadSuccessTotal: u.uploadSuccessTotal.Load(),
		UploadFailTotal:    u.uploadFailTotal.Load(),
		RetryTotal:         u.retryTotal.Load(),
		BytesTotal:         u.bytesTotal.Load(),
	}
}

// Upload sends every file and returns the first failure after retries.
func (u *Uploader) Upload(ctx context.Context, runID string, localPaths ...string) error {
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(u.workers)
	for _, p := range localPaths {
		g.Go(func() error {
			return u.uploadOne(gctx, runID, p)
		})
	}
	return g.Wait()
}

func (u *Uploader) uploadOne(ctx context.Context, runID, localPath string) error {
	key, err := u.ObjectKey(runID, localPath)
	if err != nil {
		return err
	}
	f, err := os.Open(localPath)
	if err != nil {
		return err
	}
	defer f.Close()
	st, err := f.Stat()
	if err != nil {
		return err
	}
	if st.IsDir() {
		return fmt.Errorf("upload %s: is a directory", localPath)
	}
	if err := u.uploadWithRetry(ctx, key, f, st.Size()); err != nil {
		u.uploadFailTotal.Add(1)
		u.printf("r2 upload failed key=%s local=%s err=%v", key, localPath, err)
		return fmt.Errorf("upload %s: %w", key, err)
	}
	u.uploadSuccessTotal.Add(1)
	u.bytesTotal.Add(uint64(st.Size()))
	u.printf("r2 uploaded key=%s local=%s", key, localPath)
	return nil
}

func (u *Uploader) uploadWithRetry(ctx context.Context, key string, f *os.File, size int64) error {
	var lastErr error
	for attempt := 1; attempt <= u.maxAttempts; attempt++ {
		// Each attempt reads through its own offset.
		err := u.client.Put(ctx, key, io.NewSectionReader(f, 0, size), size)
		if err == nil {
			return nil
		}
		lastErr = err
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if attempt < u.maxAttempts {
			u.retryTotal.Add(1)
			t := time.NewTimer(u.backoff(attempt))
			select {
			case <-t.C:
			case <-ctx.Done():
				t.Stop()
				return ctx.Err()
			}
		}
	}
	return lastErr
}

// ObjectKey maps a local file below baseDir to its bucket key.
func (u *Uploader) ObjectKey(runID, localPath string) (string, error) {
	if localPath == "" {
		return "", fmt.Errorf("empty local path")
	}
	absBase, err := filepath.Abs(u.baseDir)
	if err != nil {
		return "", err
	}
	absLocal, err := filepath.Abs(localPath)
	if err != nil {
		return "", err
	}
	rel, err := filepath.Rel(absBase, absLocal)
	if err != nil {
		return "", err
	}
	rel = filepath.ToSlash(rel)
	if rel == "." || rel == ".." || strings.HasPrefix(rel, "../") {
		return "", fmt.Errorf("path %s is outside output dir %s", absLocal, absBase)
	}
	return path.Join(u.prefix, runID, rel), nil
}

func (u *Uploader) printf(format string, args ...any) {
	if u.logger != nil {
		u.logger.Printf(format, args...)
	}
}
