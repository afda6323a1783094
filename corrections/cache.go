package corrections

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/klauspost/compress/gzip"
	"golang.org/x/sync/singleflight"
)

// Cache keeps local copies of archive files.  A file is stored under the
// cache directory at its canonical archive path, so the path identifies the
// content and a file that's present is never fetched again.
//
// Several goroutines may ask for the same missing file at once.  Only one
// fetch runs and the others wait for it.  The file is written to a temporary
// name in the same directory and renamed into place, so a reader never sees
// a partial file and a failed fetch leaves nothing behind.
type Cache struct {
	dir     string
	fetcher Fetcher
	timeout time.Duration
	logger  *slog.Logger
	group   singleflight.Group
}

// NewCache creates a cache in dir.  Each fetch is bounded by timeout (zero
// means no limit).
func NewCache(dir string, fetcher Fetcher, timeout time.Duration, logger *slog.Logger) *Cache {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Cache{dir: dir, fetcher: fetcher, timeout: timeout, logger: logger}
}

// Dir returns the cache directory.
func (c *Cache) Dir() string {
	return c.dir
}

// LocalPath returns where the file with the given canonical path is kept.
func (c *Cache) LocalPath(canonical string) string {
	return filepath.Join(c.dir, filepath.FromSlash(canonical))
}

// Get returns the local path of a file, fetching it from remotePath if
// it's not already present.  canonical is the archive path without any
// compression suffix.  If remotePath ends in ".gz" the fetched data is
// decompressed.  The second result is true if the file was fetched.
func (c *Cache) Get(ctx context.Context, canonical, remotePath string) (string, bool, error) {
	local := c.LocalPath(canonical)
	if exists(local) {
		return local, false, nil
	}

	// The fetch is shared, so it doesn't stop when the caller that
	// started it gives up.  Each caller waits on its own context.
	ch := c.group.DoChan(local, func() (interface{}, error) {
		// Another caller may have finished the fetch since we looked.
		if exists(local) {
			return false, nil
		}
		if err := c.fetch(context.WithoutCancel(ctx), remotePath, local); err != nil {
			return false, err
		}
		return true, nil
	})
	select {
	case result := <-ch:
		if result.Err != nil {
			return "", false, result.Err
		}
		return local, result.Val.(bool) && !result.Shared, nil
	case <-ctx.Done():
		return "", false, ctx.Err()
	}
}

// fetch fetches remotePath into a temporary file and renames it to local.
func (c *Cache) fetch(ctx context.Context, remotePath, local string) error {
	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	var buffer bytes.Buffer
	if err := c.fetcher.Fetch(ctx, remotePath, &buffer); err != nil {
		return err
	}

	dir := filepath.Dir(local)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(dir, ".fetch-*")
	if err != nil {
		return err
	}
	committed := false
	defer func() {
		if !committed {
			tmp.Close()
			os.Remove(tmp.Name())
		}
	}()

	var source io.Reader = &buffer
	if strings.HasSuffix(remotePath, ".gz") {
		zr, err := gzip.NewReader(&buffer)
		if err != nil {
			return fmt.Errorf("%s: %w", remotePath, err)
		}
		defer zr.Close()
		source = zr
	}

	if _, err := io.Copy(tmp, source); err != nil {
		return fmt.Errorf("%s: %w", remotePath, err)
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Rename(tmp.Name(), local); err != nil {
		return err
	}
	committed = true

	c.logger.Debug("fetched correction file", "remote", remotePath, "local", local)
	return nil
}

func exists(name string) bool {
	info, err := os.Stat(name)
	if err != nil {
		return false
	}
	return info.Mode().IsRegular()
}
