package catalog

import (
	"context"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/sengac/mindstrike-sub006/internal/domain"
	"github.com/sengac/mindstrike-sub006/internal/metrics"
)

const (
	downloadUserAgent = "MindStrike/0.1.0"
	copyBufSize       = 256 * 1024

	// Finished jobs stay queryable for this long before eviction.
	doneRetention = 10 * time.Minute
)

// Downloader pulls GGUF weights into the models directory with progress
// reporting and cancellation. Jobs are keyed by target filename: a second
// pull of an in-flight filename joins the existing job.
type Downloader struct {
	dir    string
	client *http.Client

	mu   sync.Mutex
	jobs map[string]*downloadJob
}

type downloadJob struct {
	id       string
	filename string
	cancel   context.CancelFunc

	mu       sync.Mutex
	progress domain.DownloadProgress
	doneAt   time.Time
}

// NewDownloader creates a downloader writing into dir.
func NewDownloader(dir string) *Downloader {
	return &Downloader{
		dir:    dir,
		client: &http.Client{}, // no overall timeout; downloads are long-lived
		jobs:   make(map[string]*downloadJob),
	}
}

// Start begins downloading url into the models directory as filename.
// Returns the job id. Starting a filename that is already downloading
// returns the running job's id.
func (d *Downloader) Start(url, filename string, sizeHint int64) (string, error) {
	if filename == "" || filepath.Base(filename) != filename {
		return "", fmt.Errorf("%w: bad download filename %q", domain.ErrInvalidPayload, filename)
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	d.evictLocked()

	if job, ok := d.jobs[filename]; ok && job.status() == "downloading" {
		return job.id, nil
	}

	ctx, cancel := context.WithCancel(context.Background())
	job := &downloadJob{
		id:       uuid.NewString(),
		filename: filename,
		cancel:   cancel,
		progress: domain.DownloadProgress{
			Filename:   filename,
			BytesTotal: sizeHint,
			Status:     "downloading",
		},
	}
	d.jobs[filename] = job

	go d.run(ctx, job, url)
	return job.id, nil
}

// Progress reports the state of a pull by filename. Unknown filenames
// return (zero, false).
func (d *Downloader) Progress(filename string) (domain.DownloadProgress, bool) {
	d.mu.Lock()
	job, ok := d.jobs[filename]
	d.mu.Unlock()
	if !ok {
		return domain.DownloadProgress{}, false
	}
	return job.snapshot(), true
}

// Cancel stops an in-flight pull. Returns false when nothing with that
// filename is downloading. Cancelling removes the partial file.
func (d *Downloader) Cancel(filename string) bool {
	d.mu.Lock()
	job, ok := d.jobs[filename]
	d.mu.Unlock()
	if !ok || job.status() != "downloading" {
		return false
	}
	job.cancel()
	return true
}

// Active lists the progress of every tracked job.
func (d *Downloader) Active() []domain.DownloadProgress {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]domain.DownloadProgress, 0, len(d.jobs))
	for _, job := range d.jobs {
		out = append(out, job.snapshot())
	}
	return out
}

// run drives one download to completion: fetch into a .partial temp file,
// then rename into place so a crash never leaves a truncated .gguf behind.
func (d *Downloader) run(ctx context.Context, job *downloadJob, url string) {
	metrics.DownloadsActive.Inc()
	defer metrics.DownloadsActive.Dec()

	target := filepath.Join(d.dir, job.filename)
	tmp := target + ".partial"

	err := d.fetch(ctx, job, url, tmp)
	switch {
	case ctx.Err() != nil:
		os.Remove(tmp) //nolint:errcheck
		job.finish("cancelled")
		log.Printf("[download] cancelled %s", job.filename)
	case err != nil:
		os.Remove(tmp) //nolint:errcheck
		job.finish("failed")
		log.Printf("[download] %s: %v", job.filename, err)
	default:
		if err := os.Rename(tmp, target); err != nil {
			os.Remove(tmp) //nolint:errcheck
			job.finish("failed")
			log.Printf("[download] finalize %s: %v", job.filename, err)
			return
		}
		job.finish("done")
		log.Printf("[download] completed %s", job.filename)
	}
}

func (d *Downloader) fetch(ctx context.Context, job *downloadJob, url, dst string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	req.Header.Set("User-Agent", downloadUserAgent)

	resp, err := d.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("HTTP %d", resp.StatusCode)
	}

	f, err := os.Create(dst)
	if err != nil {
		return err
	}
	defer f.Close()

	total := resp.ContentLength
	if total > 0 {
		job.setTotal(total)
	}

	buf := make([]byte, copyBufSize)
	var done int64
	for {
		n, readErr := resp.Body.Read(buf)
		if n > 0 {
			if _, err := f.Write(buf[:n]); err != nil {
				return err
			}
			done += int64(n)
			job.setDone(done)
			metrics.DownloadBytes.WithLabelValues(job.filename).Add(float64(n))
		}
		if readErr == io.EOF {
			return nil
		}
		if readErr != nil {
			return readErr
		}
	}
}

// evictLocked drops finished jobs past their retention window. Caller
// holds d.mu.
func (d *Downloader) evictLocked() {
	cutoff := time.Now().Add(-doneRetention)
	for filename, job := range d.jobs {
		job.mu.Lock()
		expired := !job.doneAt.IsZero() && job.doneAt.Before(cutoff)
		job.mu.Unlock()
		if expired {
			delete(d.jobs, filename)
		}
	}
}

// ─── Job state ──────────────────────────────────────────────────────────────

func (j *downloadJob) snapshot() domain.DownloadProgress {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.progress
}

func (j *downloadJob) status() string {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.progress.Status
}

func (j *downloadJob) setTotal(total int64) {
	j.mu.Lock()
	j.progress.BytesTotal = total
	j.mu.Unlock()
}

func (j *downloadJob) setDone(done int64) {
	j.mu.Lock()
	j.progress.BytesDone = done
	if j.progress.BytesTotal > 0 {
		j.progress.Percent = float64(done) / float64(j.progress.BytesTotal) * 100
	}
	j.mu.Unlock()
}

func (j *downloadJob) finish(status string) {
	j.mu.Lock()
	j.progress.Status = status
	if status == "done" {
		j.progress.Percent = 100
	}
	j.doneAt = time.Now()
	j.mu.Unlock()
}
