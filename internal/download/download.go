// Package download resolves source URLs to local temp files with bounded
// size and time, and classifies failures so the worker can decide between
// retry and permanent failure.
package download

import (
	"context"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"net/url"
	"os"
	"path"
	"time"
)

// Error wraps a download failure with its retry classification. Network
// errors and 5xx responses are transient; client errors and oversize bodies
// are permanent.
type Error struct {
	Transient bool
	Err       error
}

func (e *Error) Error() string { return e.Err.Error() }
func (e *Error) Unwrap() error { return e.Err }

// IsTransient reports whether err is a download failure worth retrying.
func IsTransient(err error) bool {
	var de *Error
	return errors.As(err, &de) && de.Transient
}

// Result describes a completed fetch. The caller owns Path and must remove it.
type Result struct {
	Path     string
	Filename string
	Size     int64
	MIMEType string
}

// Downloader fetches source documents over HTTP.
type Downloader struct {
	client   *http.Client
	maxBytes int64
}

// New constructs a Downloader. timeout bounds the whole fetch including the
// body read; maxBytes rejects documents beyond the configured limit.
func New(maxBytes int64, timeout time.Duration) *Downloader {
	return &Downloader{
		client:   &http.Client{Timeout: timeout},
		maxBytes: maxBytes,
	}
}

// Fetch downloads rawURL into a temp file. On error no file is left behind.
func (d *Downloader) Fetch(ctx context.Context, rawURL string) (*Result, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, &Error{Transient: false, Err: fmt.Errorf("build request: %w", err)}
	}
	resp, err := d.client.Do(req)
	if err != nil {
		return nil, &Error{Transient: true, Err: fmt.Errorf("fetch %s: %w", rawURL, err)}
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode >= 500:
		return nil, &Error{Transient: true, Err: fmt.Errorf("fetch %s: status %d", rawURL, resp.StatusCode)}
	case resp.StatusCode >= 300:
		return nil, &Error{Transient: false, Err: fmt.Errorf("fetch %s: status %d", rawURL, resp.StatusCode)}
	}

	tmp, err := os.CreateTemp("", "docpipe-src-*")
	if err != nil {
		return nil, &Error{Transient: true, Err: fmt.Errorf("create temp file: %w", err)}
	}
	written, err := io.Copy(tmp, io.LimitReader(resp.Body, d.maxBytes+1))
	if cerr := tmp.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		os.Remove(tmp.Name())
		return nil, &Error{Transient: true, Err: fmt.Errorf("read body: %w", err)}
	}
	if written > d.maxBytes {
		os.Remove(tmp.Name())
		return nil, &Error{Transient: false, Err: fmt.Errorf("document exceeds limit (%d bytes)", d.maxBytes)}
	}
	if written == 0 {
		os.Remove(tmp.Name())
		return nil, &Error{Transient: false, Err: errors.New("empty response body")}
	}

	return &Result{
		Path:     tmp.Name(),
		Filename: filenameFor(rawURL, resp),
		Size:     written,
		MIMEType: resp.Header.Get("Content-Type"),
	}, nil
}

// filenameFor prefers the Content-Disposition filename over the URL path.
func filenameFor(rawURL string, resp *http.Response) string {
	if cd := resp.Header.Get("Content-Disposition"); cd != "" {
		if _, params, err := mime.ParseMediaType(cd); err == nil {
			if name := params["filename"]; name != "" {
				return path.Base(name)
			}
		}
	}
	if u, err := url.Parse(rawURL); err == nil {
		if name := path.Base(u.Path); name != "" && name != "/" && name != "." {
			return name
		}
	}
	return "document"
}
