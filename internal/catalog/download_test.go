package catalog

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/sengac/mindstrike-sub006/internal/domain"
)

// waitStatus polls a job until it leaves "downloading" or the deadline hits.
func waitStatus(t *testing.T, d *Downloader, filename string) domain.DownloadProgress {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		p, ok := d.Progress(filename)
		if ok && p.Status != "downloading" {
			return p
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("download %s did not settle", filename)
	return domain.DownloadProgress{}
}

func TestDownloader_Success(t *testing.T) {
	payload := make([]byte, 64*1024)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("User-Agent"); got != downloadUserAgent {
			t.Errorf("User-Agent = %q, want %q", got, downloadUserAgent)
		}
		w.Write(payload)
	}))
	defer srv.Close()

	dir := t.TempDir()
	d := NewDownloader(dir)

	id, err := d.Start(srv.URL, "model.gguf", int64(len(payload)))
	if err != nil {
		t.Fatalf("Start() error: %v", err)
	}
	if id == "" {
		t.Error("Start() should return a job id")
	}

	p := waitStatus(t, d, "model.gguf")
	if p.Status != "done" {
		t.Fatalf("status = %q, want done", p.Status)
	}
	if p.Percent != 100 {
		t.Errorf("Percent = %g, want 100", p.Percent)
	}
	if p.BytesDone != int64(len(payload)) {
		t.Errorf("BytesDone = %d, want %d", p.BytesDone, len(payload))
	}

	data, err := os.ReadFile(filepath.Join(dir, "model.gguf"))
	if err != nil {
		t.Fatalf("read downloaded file: %v", err)
	}
	if len(data) != len(payload) {
		t.Errorf("file size = %d, want %d", len(data), len(payload))
	}
	if _, err := os.Stat(filepath.Join(dir, "model.gguf.partial")); !os.IsNotExist(err) {
		t.Error("partial file should be gone after completion")
	}
}

func TestDownloader_HTTPError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	}))
	defer srv.Close()

	dir := t.TempDir()
	d := NewDownloader(dir)

	if _, err := d.Start(srv.URL, "missing.gguf", 0); err != nil {
		t.Fatalf("Start() error: %v", err)
	}
	p := waitStatus(t, d, "missing.gguf")
	if p.Status != "failed" {
		t.Errorf("status = %q, want failed", p.Status)
	}
	if _, err := os.Stat(filepath.Join(dir, "missing.gguf")); !os.IsNotExist(err) {
		t.Error("no file should exist after a failed download")
	}
}

func TestDownloader_Cancel(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Length", "1000000")
		w.Write(make([]byte, 1024))
		if f, ok := w.(http.Flusher); ok {
			f.Flush()
		}
		<-release // hold the body open until the client goes away
	}))
	defer srv.Close()
	defer close(release)

	dir := t.TempDir()
	d := NewDownloader(dir)

	if _, err := d.Start(srv.URL, "big.gguf", 0); err != nil {
		t.Fatalf("Start() error: %v", err)
	}

	// Wait for the first bytes so the fetch is mid-body.
	deadline := time.Now().Add(5 * time.Second)
	for {
		if p, ok := d.Progress("big.gguf"); ok && p.BytesDone > 0 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("download never started")
		}
		time.Sleep(5 * time.Millisecond)
	}

	if !d.Cancel("big.gguf") {
		t.Fatal("Cancel() should return true for an in-flight download")
	}
	p := waitStatus(t, d, "big.gguf")
	if p.Status != "cancelled" {
		t.Errorf("status = %q, want cancelled", p.Status)
	}
	if _, err := os.Stat(filepath.Join(dir, "big.gguf.partial")); !os.IsNotExist(err) {
		t.Error("partial file should be removed on cancel")
	}
}

func TestDownloader_CancelUnknown(t *testing.T) {
	d := NewDownloader(t.TempDir())
	if d.Cancel("nope.gguf") {
		t.Error("Cancel() should return false for unknown filenames")
	}
}

func TestDownloader_BadFilename(t *testing.T) {
	d := NewDownloader(t.TempDir())

	for _, bad := range []string{"", "../escape.gguf", "a/b.gguf"} {
		if _, err := d.Start("http://example.invalid", bad, 0); !errors.Is(err, domain.ErrInvalidPayload) {
			t.Errorf("Start(%q) error = %v, want ErrInvalidPayload", bad, err)
		}
	}
}

func TestDownloader_JoinInFlight(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write(make([]byte, 1024))
		if f, ok := w.(http.Flusher); ok {
			f.Flush()
		}
		<-release
	}))
	defer srv.Close()

	d := NewDownloader(t.TempDir())
	id1, err := d.Start(srv.URL, "shared.gguf", 0)
	if err != nil {
		t.Fatalf("Start() error: %v", err)
	}
	id2, err := d.Start(srv.URL, "shared.gguf", 0)
	if err != nil {
		t.Fatalf("second Start() error: %v", err)
	}
	if id1 != id2 {
		t.Errorf("second pull of an in-flight filename should join: %s vs %s", id1, id2)
	}

	close(release)
	waitStatus(t, d, "shared.gguf")
}

func TestDownloader_ProgressUnknown(t *testing.T) {
	d := NewDownloader(t.TempDir())
	if _, ok := d.Progress("nope.gguf"); ok {
		t.Error("Progress() should report false for unknown filenames")
	}
}

func TestDownloader_Active(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("x"))
	}))
	defer srv.Close()

	d := NewDownloader(t.TempDir())
	if _, err := d.Start(srv.URL, "one.gguf", 0); err != nil {
		t.Fatalf("Start() error: %v", err)
	}
	waitStatus(t, d, "one.gguf")

	active := d.Active()
	if len(active) != 1 || active[0].Filename != "one.gguf" {
		t.Errorf("Active() = %+v, want the finished job still tracked", active)
	}
}
