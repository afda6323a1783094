package corrections

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/textproto"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/jlaffaye/ftp"
)

// ErrNotFound is returned by a Fetcher when the archive doesn't have the
// file (yet).
var ErrNotFound = errors.New("not found in the archive")

// Fetcher copies a file from a remote archive.
type Fetcher interface {
	// Fetch writes the contents of the file at remotePath (relative to the
	// archive root, slash separated) to w.
	Fetch(ctx context.Context, remotePath string, w io.Writer) error
}

// NewFetcher creates a Fetcher for an archive URL.  ftp:// URLs give an
// FTPFetcher, http:// and https:// an HTTPFetcher.  file:// URLs and plain
// paths give a DirFetcher, for an archive mirrored onto a local disk.
func NewFetcher(archiveURL string) (Fetcher, error) {
	u, err := url.Parse(archiveURL)
	if err != nil {
		return nil, fmt.Errorf("archive URL %q: %w", archiveURL, err)
	}

	switch u.Scheme {
	case "ftp":
		f := FTPFetcher{Address: u.Host, Root: u.Path, User: "anonymous", Password: "anonymous"}
		if !strings.Contains(u.Host, ":") {
			f.Address = u.Host + ":21"
		}
		if u.User != nil {
			f.User = u.User.Username()
			if p, ok := u.User.Password(); ok {
				f.Password = p
			}
		}
		return &f, nil
	case "http", "https":
		return &HTTPFetcher{BaseURL: strings.TrimSuffix(archiveURL, "/")}, nil
	case "file":
		return &DirFetcher{Root: u.Path}, nil
	case "":
		return &DirFetcher{Root: archiveURL}, nil
	default:
		return nil, fmt.Errorf("archive URL %q: unsupported scheme %q", archiveURL, u.Scheme)
	}
}

// FTPFetcher fetches files from an FTP server such as the IGS data
// centres.  Each fetch uses its own connection.
type FTPFetcher struct {
	// Address is host:port.
	Address  string
	Root     string
	User     string
	Password string
	// DialTimeout bounds connecting.  The overall fetch is bounded by the
	// context.
	DialTimeout time.Duration
}

// Fetch retrieves the file.  If the context is cancelled or its deadline
// passes, the connection is closed, which makes the transfer fail.
func (f *FTPFetcher) Fetch(ctx context.Context, remotePath string, w io.Writer) error {
	dialTimeout := f.DialTimeout
	if dialTimeout == 0 {
		dialTimeout = 30 * time.Second
	}

	conn, err := ftp.Dial(f.Address, ftp.DialWithContext(ctx), ftp.DialWithTimeout(dialTimeout))
	if err != nil {
		return fmt.Errorf("ftp %s: %w", f.Address, err)
	}

	quit := sync.OnceFunc(func() { conn.Quit() })
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			quit()
		case <-done:
		}
	}()

	if err := conn.Login(f.User, f.Password); err != nil {
		quit()
		return fmt.Errorf("ftp %s: login: %w", f.Address, err)
	}

	full := path.Join("/", f.Root, remotePath)
	resp, err := conn.Retr(full)
	if err != nil {
		quit()
		var protoError *textproto.Error
		if errors.As(err, &protoError) && protoError.Code == ftp.StatusFileUnavailable {
			return fmt.Errorf("ftp %s%s: %w", f.Address, full, ErrNotFound)
		}
		return fmt.Errorf("ftp %s%s: %w", f.Address, full, ctxError(ctx, err))
	}

	_, copyError := io.Copy(w, resp)
	closeError := resp.Close()
	quit()

	if copyError != nil {
		return fmt.Errorf("ftp %s%s: %w", f.Address, full, ctxError(ctx, copyError))
	}
	if closeError != nil {
		return fmt.Errorf("ftp %s%s: %w", f.Address, full, ctxError(ctx, closeError))
	}
	return ctx.Err()
}

// ctxError prefers the context's error when the context has ended, since
// that's the real reason a transfer was cut off.
func ctxError(ctx context.Context, err error) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}
	return err
}

// HTTPFetcher fetches files over HTTP(S), for archives such as CDDIS that
// have moved off FTP.
type HTTPFetcher struct {
	BaseURL string
	// Client defaults to http.DefaultClient.
	Client *http.Client
}

// Fetch retrieves the file.
func (f *HTTPFetcher) Fetch(ctx context.Context, remotePath string, w io.Writer) error {
	client := f.Client
	if client == nil {
		client = http.DefaultClient
	}

	target := f.BaseURL + "/" + strings.TrimPrefix(remotePath, "/")
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return err
	}

	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("get %s: %w", target, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return fmt.Errorf("get %s: %w", target, ErrNotFound)
	case resp.StatusCode != http.StatusOK:
		return fmt.Errorf("get %s: %s", target, resp.Status)
	}

	if _, err := io.Copy(w, resp.Body); err != nil {
		return fmt.Errorf("get %s: %w", target, err)
	}
	return nil
}

// DirFetcher "fetches" files from a directory, typically a mounted mirror
// of an archive.
type DirFetcher struct {
	Root string
}

// Fetch copies the file.
func (f *DirFetcher) Fetch(ctx context.Context, remotePath string, w io.Writer) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	full := filepath.Join(f.Root, filepath.FromSlash(remotePath))
	in, err := os.Open(full)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("%s: %w", full, ErrNotFound)
		}
		return err
	}
	defer in.Close()

	_, err = io.Copy(w, in)
	return err
}
