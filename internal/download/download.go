// Package download fetches accepted search results to disk under a global
// concurrency bound, classifying every failure into a recorded reason.
package download

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/FranksOps/docsweep/internal/bypass"
	"github.com/FranksOps/docsweep/internal/config"
	"github.com/FranksOps/docsweep/internal/fingerprint"
	"github.com/FranksOps/docsweep/internal/metrics"
	"github.com/FranksOps/docsweep/internal/storage"
	"github.com/FranksOps/docsweep/pkg/httpclient"
	"github.com/FranksOps/docsweep/pkg/proxy"
	"golang.org/x/sync/semaphore"
)

// ErrLocalStorage wraps failures to create or write files on the local disk.
var ErrLocalStorage = errors.New("local storage failure")

// DefaultUserAgent is the robots.txt group the downloader identifies as.
const DefaultUserAgent = "docsweep"

// PathAllocator decides where a result's file is written.
type PathAllocator interface {
	AllocatePath(session *storage.Session, result *storage.Result, fileType string) (string, error)
}

// Config controls a Downloader.
type Config struct {
	MaxConcurrent  int
	MaxFileSize    int64
	MaxRetries     int
	RetryBaseDelay time.Duration
	RespectRobots  bool
	UserAgent      string
}

// Outcome is the terminal result of one Fetch.
type Outcome struct {
	Status   storage.DownloadStatus
	Path     string
	FileType string
	Size     int64
	Reason   string
	Err      error
}

// Downloader fetches documents with at most Config.MaxConcurrent transfers in flight.
type Downloader struct {
	cfg    Config
	client *httpclient.Client
	files  PathAllocator
	sem    *semaphore.Weighted
	robots *robotsChecker
	logger *slog.Logger
}

// New creates a Downloader. client should carry the per-request timeout.
func New(cfg Config, client *httpclient.Client, files PathAllocator, logger *slog.Logger) *Downloader {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.MaxConcurrent <= 0 {
		cfg.MaxConcurrent = 1
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = DefaultUserAgent
	}
	d := &Downloader{
		cfg:    cfg,
		client: client,
		files:  files,
		sem:    semaphore.NewWeighted(int64(cfg.MaxConcurrent)),
		logger: logger,
	}
	if cfg.RespectRobots {
		d.robots = newRobotsChecker(client, cfg.UserAgent, logger)
	}
	return d
}

// NewClient builds the download HTTP client: fingerprinted TLS, optional proxy
// rotation from cfg.ProxyFile and rotating User-Agents.
func NewClient(cfg config.DownloadConfig, logger *slog.Logger) (*httpclient.Client, error) {
	profile, err := fingerprint.ParseProfile(cfg.Fingerprint)
	if err != nil {
		return nil, err
	}
	opts := fingerprint.Options{Profile: profile}

	var rot *proxy.Rotator
	if cfg.ProxyFile != "" {
		rot = proxy.NewRotator(proxy.Config{})
		if err := rot.LoadFile(cfg.ProxyFile); err != nil {
			return nil, err
		}
		opts.Proxy = proxy.FromContext
	}

	transport, err := fingerprint.Transport(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to setup transport: %w", err)
	}
	var rt http.RoundTripper = transport
	if rot != nil {
		rt = rot.RoundTripper(transport)
	}

	return httpclient.New(httpclient.Config{
		Timeout:      cfg.Timeout,
		MaxRedirects: 10,
		Transport:    rt,
		UserAgents:   []string{},
		Logger:       logger,
	})
}

// NewFromConfig wires a Downloader from the download section of the configuration.
func NewFromConfig(cfg config.DownloadConfig, files PathAllocator, logger *slog.Logger) (*Downloader, error) {
	client, err := NewClient(cfg, logger)
	if err != nil {
		return nil, err
	}
	return New(Config{
		MaxConcurrent:  cfg.MaxConcurrent,
		MaxFileSize:    cfg.MaxFileSize,
		MaxRetries:     cfg.MaxRetries,
		RetryBaseDelay: cfg.RetryBaseDelay,
		RespectRobots:  cfg.RespectRobots,
	}, client, files, logger), nil
}

// Fetch downloads result.URL. It blocks while MaxConcurrent transfers are in
// flight. started, when non-nil, runs once a transfer slot is held and before
// any request is sent; an error from it ends the fetch as failed:storage_error.
// URLs rejected by extension never take a slot and never call started.
// The returned Outcome is always terminal.
func (d *Downloader) Fetch(ctx context.Context, session *storage.Session, result *storage.Result, started func() error) Outcome {
	start := time.Now()
	out := d.fetch(ctx, session, result, started)

	metrics.RecordDownload(string(out.Status), out.Reason, out.FileType, out.Size, time.Since(start))
	log := d.logger.With("url", result.URL, "status", out.Status, "reason", out.Reason)
	switch out.Status {
	case storage.StatusDownloaded:
		log.Info("document downloaded", "path", out.Path, "size", out.Size, "file_type", out.FileType)
	case storage.StatusSkipped:
		log.Debug("document skipped")
	default:
		log.Warn("document download failed", "error", out.Err)
	}
	return out
}

func (d *Downloader) fetch(ctx context.Context, session *storage.Session, result *storage.Result, started func() error) Outcome {
	fileType, rejected := TypeFromURL(result.URL)
	if rejected {
		return skipped(storage.ReasonUnsupportedType)
	}

	if err := d.sem.Acquire(ctx, 1); err != nil {
		return failed(storage.ReasonCancelled, err)
	}
	defer d.sem.Release(1)

	if started != nil {
		if err := started(); err != nil {
			return failed(storage.ReasonStorageError, err)
		}
	}

	if d.robots != nil {
		allowed, err := d.robots.Allowed(ctx, result.URL)
		if err != nil {
			return failed(storage.ReasonHTTPError, err)
		}
		if !allowed {
			return skipped(storage.ReasonRobotsDisallowed)
		}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, result.URL, nil)
	if err != nil {
		return failed(storage.ReasonHTTPError, fmt.Errorf("build request: %w", err))
	}
	req.Header.Set("Accept", "application/pdf,text/html,application/xhtml+xml,text/plain,text/csv,*/*;q=0.8")

	resp, err := d.client.DoWithRetry(ctx, req, httpclient.RetryPolicy{
		MaxRetries: d.cfg.MaxRetries,
		BaseDelay:  d.cfg.RetryBaseDelay,
		OnRetry: func(attempt int, reason string, wait time.Duration) {
			metrics.DownloadRetriesTotal.Inc()
		},
	})
	if err != nil {
		return d.transportFailure(ctx, err)
	}
	defer resp.Body.Close()

	body := bufio.NewReaderSize(resp.Body, bypass.PeekSize)
	peek, _ := body.Peek(bypass.PeekSize)
	ok := resp.StatusCode >= 200 && resp.StatusCode <= 299

	// Error-page heuristics apply to 2xx responses only.
	detectors := bypass.DefaultDetectors()
	if ok {
		detectors = bypass.DownloadDetectors()
	}
	if detected, source := bypass.Inspect(&bypass.Response{
		StatusCode: resp.StatusCode,
		Header:     resp.Header,
		Body:       peek,
	}, detectors); detected {
		return failed(storage.ReasonBlocked, fmt.Errorf("blocked: %s", source))
	}
	if !ok {
		return failed(storage.ReasonHTTPError, fmt.Errorf("unexpected status %s", resp.Status))
	}

	if fileType == "" {
		fileType = TypeFromContentType(resp.Header.Get("Content-Type"))
		if fileType == "" {
			return skipped(storage.ReasonUnsupportedType)
		}
	}

	if d.cfg.MaxFileSize > 0 && resp.ContentLength > d.cfg.MaxFileSize {
		return failed(storage.ReasonTooLarge, fmt.Errorf("content length %d exceeds %d", resp.ContentLength, d.cfg.MaxFileSize))
	}

	dest, err := d.files.AllocatePath(session, result, fileType)
	if err != nil {
		return failed(storage.ReasonStorageError, fmt.Errorf("%w: allocate path: %v", ErrLocalStorage, err))
	}

	size, out := d.save(ctx, body, dest)
	if out != nil {
		out.FileType = fileType
		return *out
	}
	return Outcome{Status: storage.StatusDownloaded, Path: dest, FileType: fileType, Size: size}
}

// save streams r into a temp file beside dest and renames it into place.
// A non-nil Outcome means nothing was left at dest.
func (d *Downloader) save(ctx context.Context, r io.Reader, dest string) (int64, *Outcome) {
	dir := filepath.Dir(dest)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return 0, ptr(failed(storage.ReasonStorageError, fmt.Errorf("%w: %v", ErrLocalStorage, err)))
	}
	tmp, err := os.CreateTemp(dir, ".download-*.part")
	if err != nil {
		return 0, ptr(failed(storage.ReasonStorageError, fmt.Errorf("%w: %v", ErrLocalStorage, err)))
	}
	keep := false
	defer func() {
		if !keep {
			_ = tmp.Close()
			_ = os.Remove(tmp.Name())
		}
	}()

	src := r
	if d.cfg.MaxFileSize > 0 {
		src = io.LimitReader(r, d.cfg.MaxFileSize+1)
	}
	n, err := io.Copy(tmp, src)
	if err != nil {
		var pe *os.PathError
		if errors.As(err, &pe) {
			return n, ptr(failed(storage.ReasonStorageError, fmt.Errorf("%w: %v", ErrLocalStorage, err)))
		}
		o := d.transportFailure(ctx, err)
		return n, &o
	}
	if d.cfg.MaxFileSize > 0 && n > d.cfg.MaxFileSize {
		return n, ptr(failed(storage.ReasonTooLarge, fmt.Errorf("body exceeds %d bytes", d.cfg.MaxFileSize)))
	}
	if n == 0 {
		return 0, ptr(failed(storage.ReasonHTTPError, errors.New("empty response body")))
	}

	if err := tmp.Close(); err != nil {
		return n, ptr(failed(storage.ReasonStorageError, fmt.Errorf("%w: %v", ErrLocalStorage, err)))
	}
	if err := os.Rename(tmp.Name(), dest); err != nil {
		return n, ptr(failed(storage.ReasonStorageError, fmt.Errorf("%w: %v", ErrLocalStorage, err)))
	}
	keep = true
	return n, nil
}

func (d *Downloader) transportFailure(ctx context.Context, err error) Outcome {
	switch {
	case ctx.Err() != nil:
		return failed(storage.ReasonCancelled, err)
	case httpclient.IsTimeout(err):
		return failed(storage.ReasonTimeout, err)
	default:
		return failed(storage.ReasonConnectionError, err)
	}
}

func failed(reason string, err error) Outcome {
	return Outcome{Status: storage.StatusFailed, Reason: reason, Err: err}
}

func skipped(reason string) Outcome {
	return Outcome{Status: storage.StatusSkipped, Reason: reason}
}

func ptr(o Outcome) *Outcome { return &o }
