package logomanifest

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	stderrors "errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/c360/billboard/errors"
	"github.com/c360/billboard/input/httppoll"
	"github.com/c360/billboard/metric"
	"github.com/c360/billboard/pkg/retry"
)

var (
	sha256Pattern = regexp.MustCompile(`^[0-9a-fA-F]{64}$`)
	unsafeChars   = regexp.MustCompile(`[^A-Za-z0-9._-]`)
)

// Downloader caches logo assets in a directory
type Downloader struct {
	dir     string
	client  *http.Client
	workers int
	retry   retry.Config
	logger  *slog.Logger
	metrics *metric.Metrics
}

// NewDownloader creates a Downloader writing into dir with at most workers
// concurrent downloads
func NewDownloader(dir string, client *http.Client, workers int, logger *slog.Logger, metrics *metric.Metrics) *Downloader {
	if workers <= 0 {
		workers = 4
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Downloader{
		dir:     dir,
		client:  client,
		workers: workers,
		retry:   retry.Download(),
		logger:  logger.With("component", "logo-downloader"),
		metrics: metrics,
	}
}

// Path returns where the asset for item is cached
func (d *Downloader) Path(item LogoItem) string {
	name := item.Filename
	if name == "" {
		name = filepath.Base(item.URL)
	}
	name = unsafeChars.ReplaceAllString(filepath.Base(name), "_")
	return filepath.Join(d.dir, unsafeChars.ReplaceAllString(item.ID, "_")+"-"+name)
}

// Sync downloads the assets of every active logo in next. A logo whose
// checksum equals the one previously recorded for its id, and whose file is
// still on disk, is not downloaded again. It returns the local path of every
// asset present after the sync and the joined download errors.
func (d *Downloader) Sync(ctx context.Context, prev, next []LogoItem) (map[string]string, error) {
	if err := os.MkdirAll(d.dir, 0o755); err != nil {
		return nil, errors.Wrap(err, "Downloader", "Sync", "create cache dir")
	}

	previous := make(map[string]LogoItem, len(prev))
	for _, l := range prev {
		previous[l.ID] = l
	}

	var (
		mu    sync.Mutex
		paths = make(map[string]string)
		errs  []error
	)

	var g errgroup.Group
	g.SetLimit(d.workers)
	for _, item := range next {
		if !item.Active || item.URL == "" {
			continue
		}
		path := d.Path(item)

		if old, ok := previous[item.ID]; ok && old.Checksum == item.Checksum && fileExists(path) {
			d.record("cached")
			mu.Lock()
			paths[item.ID] = path
			mu.Unlock()
			continue
		}

		g.Go(func() error {
			err := d.download(ctx, item, path)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				d.record("failed")
				d.logger.Warn("Logo download failed", "id", item.ID, "url", item.URL, "error", err)
				errs = append(errs, err)
				return nil
			}
			d.record("downloaded")
			paths[item.ID] = path
			return nil
		})
	}
	_ = g.Wait()

	return paths, stderrors.Join(errs...)
}

func (d *Downloader) download(ctx context.Context, item LogoItem, path string) error {
	body, err := retry.DoWithResult(ctx, d.retry, func() ([]byte, error) {
		body, err := httppoll.Get(ctx, d.client, item.URL)
		if err != nil {
			if errors.IsInvalid(err) {
				return nil, retry.NonRetryable(err)
			}
			return nil, err
		}
		if err := verifyChecksum(item.Checksum, body); err != nil {
			return nil, retry.NonRetryable(err)
		}
		return body, nil
	})
	if err != nil {
		return errors.Wrap(err, "Downloader", "download", "fetch "+item.ID)
	}
	return writeAtomic(path, body)
}

// verifyChecksum compares a hex sha256 checksum. Checksums in any other form
// are treated as opaque change markers and not verified.
func verifyChecksum(checksum string, body []byte) error {
	if !sha256Pattern.MatchString(checksum) {
		return nil
	}
	sum := sha256.Sum256(body)
	if !strings.EqualFold(hex.EncodeToString(sum[:]), checksum) {
		return errors.WrapInvalid(fmt.Errorf("%w: sha256 mismatch", errors.ErrChecksumFailed),
			"Downloader", "verifyChecksum", "verify asset")
	}
	return nil
}

func writeAtomic(path string, data []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), ".logo-*")
	if err != nil {
		return errors.Wrap(err, "Downloader", "writeAtomic", "create temp file")
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return errors.Wrap(err, "Downloader", "writeAtomic", "write asset")
	}
	if err := tmp.Close(); err != nil {
		return errors.Wrap(err, "Downloader", "writeAtomic", "close asset")
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return errors.Wrap(err, "Downloader", "writeAtomic", "rename asset")
	}
	return nil
}

func (d *Downloader) record(result string) {
	if d.metrics != nil {
		d.metrics.RecordAssetDownload(result)
	}
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}
