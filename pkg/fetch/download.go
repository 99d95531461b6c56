package fetch

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/dustin/go-humanize"

	"lowrankdecomp/internal/logging"
)

// DefaultTimeout bounds a single file request.
const DefaultTimeout = 50 * time.Second

// Downloader fetches manifest items into a cache directory.
type Downloader struct {
	Client   *http.Client
	CacheDir string
	// Force re-downloads files already present in the cache.
	Force  bool
	Logger *slog.Logger
}

// NewDownloader returns a Downloader with a client using DefaultTimeout.
func NewDownloader(cacheDir string, force bool, logger *slog.Logger) *Downloader {
	return &Downloader{
		Client:   &http.Client{Timeout: DefaultTimeout},
		CacheDir: cacheDir,
		Force:    force,
		Logger:   logger,
	}
}

// Download fetches items in order and calls onFile with the cached path of
// each verified file. Cached non-empty files are reused unless Force is set.
// Cancelling ctx aborts between files and during transfers.
func (d *Downloader) Download(ctx context.Context, items []Item, onFile func(Item, string)) ([]string, error) {
	logger := logging.OrDefault(d.Logger)
	if err := os.MkdirAll(d.CacheDir, 0o755); err != nil {
		return nil, fmt.Errorf("create cache directory: %w", err)
	}

	logger.Info("starting download", "files", len(items), "cache", d.CacheDir)
	paths := make([]string, 0, len(items))
	for _, item := range items {
		if err := ctx.Err(); err != nil {
			return paths, fmt.Errorf("download aborted: %w", err)
		}
		if err := CheckName(item.Name); err != nil {
			return paths, err
		}
		path := filepath.Join(d.CacheDir, item.Name)
		if d.needsDownload(path) {
			logger.Info("requesting download", "file", item.Name, "url", item.URL)
			n, err := d.fetch(ctx, item.URL, path)
			if err != nil {
				return paths, fmt.Errorf("download %s: %w", item.Name, err)
			}
			logger.Debug("downloaded", "file", item.Name, "size", humanize.Bytes(uint64(n)))
		} else {
			logger.Debug("using cached file", "file", item.Name)
		}
		if item.MD5 != "" {
			if err := VerifyMD5(path, item.MD5); err != nil {
				return paths, err
			}
		}
		paths = append(paths, path)
		if onFile != nil {
			onFile(item, path)
		}
	}
	logger.Info("finished download", "files", len(paths))
	return paths, nil
}

func (d *Downloader) needsDownload(path string) bool {
	if d.Force {
		return true
	}
	info, err := os.Stat(path)
	return err != nil || info.Size() == 0
}

func (d *Downloader) fetch(ctx context.Context, url, path string) (int64, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return 0, err
	}
	client := d.Client
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return 0, fmt.Errorf("unexpected status %s", resp.Status)
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), ".partial-*")
	if err != nil {
		return 0, err
	}
	defer os.Remove(tmp.Name())

	n, err := io.Copy(tmp, resp.Body)
	if closeErr := tmp.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		return n, err
	}
	return n, os.Rename(tmp.Name(), path)
}

// FileMD5 returns the hex MD5 digest of a file.
func FileMD5(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()
	h := md5.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// VerifyMD5 returns a *ChecksumError when the file digest differs from want.
func VerifyMD5(path, want string) error {
	got, err := FileMD5(path)
	if err != nil {
		return fmt.Errorf("checksum %s: %w", path, err)
	}
	if got != want {
		return &ChecksumError{Path: path, Got: got, Want: want}
	}
	return nil
}
