// Package download fetches model artifacts with resume support and reports
// progress over a newline-delimited JSON message stream. Downloads run in a
// separate worker process (see Host and RunWorker) so a failure while
// fetching cannot disturb the host's state.
package download

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/docker/go-units"

	"github.com/docker/image-sorter/pkg/catalog"
	"github.com/docker/image-sorter/pkg/logging"
)

const (
	// ChunkSize is the size of each read from the response body.
	ChunkSize = 64 * 1024
	// ProgressInterval is the minimum time between progress reports.
	ProgressInterval = 200 * time.Millisecond
	// ConnectTimeout bounds dialing and waiting for response headers.
	ConnectTimeout = 30 * time.Second
	// ReadTimeout bounds each individual body read.
	ReadTimeout = 30 * time.Second
	// UserAgent identifies the downloader to artifact servers.
	UserAgent = "image-sorter-downloader"
)

// ErrDownloadFailed indicates that an artifact could not be fetched. It does
// not affect artifacts that were already downloaded.
var ErrDownloadFailed = errors.New("download failed")

// errReadTimeout is the cancellation cause used when a body read stalls.
var errReadTimeout = errors.New("read timed out")

// Status is the terminal state of a Task.
type Status int

const (
	// Pending means the task has not finished yet.
	Pending Status = iota
	// Success means the artifact was transferred to completion.
	Success
	// AlreadyComplete means the server reported nothing left to transfer.
	AlreadyComplete
	// Failed means the transfer did not complete.
	Failed
)

// String implements Stringer.String for Status.
func (s Status) String() string {
	switch s {
	case Pending:
		return "pending"
	case Success:
		return "success"
	case AlreadyComplete:
		return "already complete"
	case Failed:
		return "failed"
	default:
		return "unknown"
	}
}

// Task describes the state of one artifact transfer.
type Task struct {
	// Filename is the artifact's name in the output directory.
	Filename string
	// Path is the destination path.
	Path string
	// Total is the expected size in bytes.
	Total int64
	// Authoritative reports whether Total came from the server rather than
	// the catalog estimate.
	Authoritative bool
	// Downloaded is the number of bytes on disk.
	Downloaded int64
	// Transferred is the number of bytes received by this call.
	Transferred int64
	// Rate is the average throughput of this call in bytes per second.
	Rate float64
	// Status is the terminal status, or Pending while in flight.
	Status Status
}

// Percent returns the completion percentage, or 0 if the total is unknown.
func (t Task) Percent() float64 {
	if t.Total <= 0 {
		return 0
	}
	return float64(t.Downloaded) / float64(t.Total) * 100
}

// ProgressFunc receives a snapshot of an in-flight task.
type ProgressFunc func(Task)

// Downloader fetches artifacts over HTTP.
type Downloader struct {
	log      logging.Logger
	client   *http.Client
	progress ProgressFunc
	// interval is the minimum time between progress reports.
	interval time.Duration
	// readTimeout bounds each body read.
	readTimeout time.Duration
}

// NewHTTPClient returns a client with the downloader's connection timeouts.
// No overall timeout is set since artifacts take many minutes to transfer.
func NewHTTPClient() *http.Client {
	return &http.Client{
		Transport: &http.Transport{
			Proxy: http.ProxyFromEnvironment,
			DialContext: (&net.Dialer{
				Timeout:   ConnectTimeout,
				KeepAlive: 30 * time.Second,
			}).DialContext,
			TLSHandshakeTimeout:   ConnectTimeout,
			ResponseHeaderTimeout: ConnectTimeout,
			ForceAttemptHTTP2:     true,
		},
	}
}

// NewDownloader creates a Downloader. A nil client selects NewHTTPClient. The
// progress function is optional.
func NewDownloader(log logging.Logger, client *http.Client, progress ProgressFunc) *Downloader {
	if client == nil {
		client = NewHTTPClient()
	}
	return &Downloader{
		log:         log,
		client:      client,
		progress:    progress,
		interval:    ProgressInterval,
		readTimeout: ReadTimeout,
	}
}

// Download fetches one artifact into outDir. If a partial file exists, the
// transfer resumes from its size. A 416 response to the range request means
// the file is already complete. A 200 response means the server ignored the
// range, so the partial file is truncated and the transfer restarts. A 206
// starting at byte zero is handled the same way; one starting at any other
// unrequested offset fails.
func (d *Downloader) Download(ctx context.Context, spec catalog.ArtifactSpec, outDir string) (Task, error) {
	task := Task{
		Filename: spec.Filename,
		Path:     filepath.Join(outDir, spec.Filename),
		Status:   Pending,
	}
	err := d.download(ctx, spec, &task)
	if err != nil {
		task.Status = Failed
		err = fmt.Errorf("%w: %s: %w", ErrDownloadFailed, spec.Filename, err)
	}
	return task, err
}

func (d *Downloader) download(ctx context.Context, spec catalog.ArtifactSpec, task *Task) error {
	var existing int64
	if info, err := os.Stat(task.Path); err == nil {
		existing = info.Size()
	} else if !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	task.Downloaded = existing

	ctx, cancel := context.WithCancelCause(ctx)
	defer cancel(nil)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, spec.URL, http.NoBody)
	if err != nil {
		return err
	}
	req.Header.Set("User-Agent", UserAgent)
	if existing > 0 {
		req.Header.Set("Range", fmt.Sprintf("bytes=%d-", existing))
	}

	resp, err := d.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	flags := os.O_WRONLY | os.O_CREATE
	switch resp.StatusCode {
	case http.StatusRequestedRangeNotSatisfiable:
		d.log.Infof("%s appears complete, skipping", spec.Filename)
		task.Total = existing
		task.Authoritative = true
		task.Status = AlreadyComplete
		return nil
	case http.StatusPartialContent:
		start, _, total, ok := parseContentRange(resp.Header.Get("Content-Range"))
		if !ok || start == existing {
			task.Total, task.Authoritative = resumedTotal(resp, existing)
			if !task.Authoritative {
				task.Total = estimate(spec)
			}
			flags |= os.O_APPEND
			d.log.Infof("Resuming %s from %s", spec.Filename, units.HumanSize(float64(existing)))
			break
		}
		// Only a range from byte zero can replace the partial file.
		if start != 0 {
			return fmt.Errorf("server resumed at byte %d, requested %d", start, existing)
		}
		d.log.Infof("Server ignored the resume offset, restarting %s", spec.Filename)
		existing = 0
		task.Downloaded = 0
		task.Total, task.Authoritative = total, total >= 0
		if !task.Authoritative {
			task.Total = estimate(spec)
		}
		flags |= os.O_TRUNC
	case http.StatusOK:
		if existing > 0 {
			d.log.Infof("Server does not support resume, restarting %s", spec.Filename)
		}
		existing = 0
		task.Downloaded = 0
		if resp.ContentLength >= 0 {
			task.Total, task.Authoritative = resp.ContentLength, true
		} else {
			task.Total = estimate(spec)
		}
		flags |= os.O_TRUNC
	default:
		return fmt.Errorf("unexpected status %s", resp.Status)
	}

	f, err := os.OpenFile(task.Path, flags, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()

	body := &idleReader{
		r:       resp.Body,
		timeout: d.readTimeout,
		timer:   time.AfterFunc(d.readTimeout, func() { cancel(errReadTimeout) }),
	}
	defer body.timer.Stop()

	if err := d.copy(f, body, task); err != nil {
		if cause := context.Cause(ctx); errors.Is(cause, errReadTimeout) {
			return cause
		}
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	task.Status = Success
	d.log.Infof("Successfully downloaded %s", spec.Filename)
	return nil
}

// copy streams body into f in ChunkSize pieces, reporting progress at most
// every interval and once more when the body is exhausted.
func (d *Downloader) copy(f io.Writer, body io.Reader, task *Task) error {
	buf := make([]byte, ChunkSize)
	start := time.Now()
	var lastReport time.Time
	report := func(now time.Time) {
		if elapsed := now.Sub(start).Seconds(); elapsed > 0 {
			task.Rate = float64(task.Transferred) / elapsed
		}
		if d.progress != nil {
			d.progress(*task)
		}
		lastReport = now
	}

	for {
		n, readErr := body.Read(buf)
		if n > 0 {
			if _, err := f.Write(buf[:n]); err != nil {
				return err
			}
			task.Transferred += int64(n)
			task.Downloaded += int64(n)
			if task.Authoritative && task.Downloaded > task.Total {
				task.Downloaded = task.Total
			}
			if now := time.Now(); now.Sub(lastReport) >= d.interval {
				report(now)
			}
		}
		if errors.Is(readErr, io.EOF) {
			report(time.Now())
			return nil
		}
		if readErr != nil {
			return readErr
		}
	}
}

// resumedTotal derives the full artifact size from a 206 response. The
// Content-Range total is preferred when it agrees with the requested offset,
// otherwise existing plus Content-Length is used.
func resumedTotal(resp *http.Response, existing int64) (int64, bool) {
	if start, _, total, ok := parseContentRange(resp.Header.Get("Content-Range")); ok && start == existing && total >= 0 {
		return total, true
	}
	if length, err := strconv.ParseInt(resp.Header.Get("Content-Length"), 10, 64); err == nil && length >= 0 {
		return existing + length, true
	}
	if resp.ContentLength >= 0 {
		return existing + resp.ContentLength, true
	}
	return 0, false
}

// estimate returns the catalog's size estimate in bytes.
func estimate(spec catalog.ArtifactSpec) int64 {
	return spec.SizeMB * units.MiB
}

// idleReader restarts a timer before every read so that a stalled body is
// cancelled after timeout.
type idleReader struct {
	r       io.Reader
	timeout time.Duration
	timer   *time.Timer
}

func (r *idleReader) Read(p []byte) (int, error) {
	r.timer.Reset(r.timeout)
	return r.r.Read(p)
}
