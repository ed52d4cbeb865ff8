package loader

import (
	"context"
	"fmt"
	"io"
	"net/url"
	"os"
	"path"
	"strings"

	"github.com/vrsandeep/plugman/internal/netutil"
	"github.com/vrsandeep/plugman/internal/plugins"
	"github.com/vrsandeep/plugman/internal/util"
)

// Download fetches req.URL into the download directory.
func (l *LocalLoader) Download(ctx context.Context, req DownloadRequest, progress chan<- Progress) (string, error) {
	resp, err := netutil.Get(ctx, l.client, req.URL)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if err := os.MkdirAll(l.downloadDir, 0755); err != nil {
		return "", fmt.Errorf("failed to create download directory: %w", err)
	}
	file, err := os.CreateTemp(l.downloadDir, downloadPattern(req))
	if err != nil {
		return "", fmt.Errorf("failed to create download file: %w", err)
	}

	pw := &progressWriter{
		ctx:      ctx,
		name:     req.Name,
		total:    resp.ContentLength,
		progress: progress,
		last:     -1,
	}
	_, err = io.Copy(io.MultiWriter(file, pw), resp.Body)
	if closeErr := file.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		os.Remove(file.Name())
		return "", &plugins.FetchError{URL: req.URL, Cause: err}
	}

	pw.finish()
	return file.Name(), nil
}

// downloadPattern keeps the URL's archive extension so the format can be
// identified from the file name as well as its header.
func downloadPattern(req DownloadRequest) string {
	name := util.PluginDirName(req.Name)
	if name == "" {
		name = "plugin"
	}
	ext := ""
	if u, err := url.Parse(req.URL); err == nil {
		base := path.Base(u.Path)
		for _, known := range []string{".tar.gz", ".tar.bz2", ".tar.xz", ".tgz", ".zip", ".tar"} {
			if strings.HasSuffix(strings.ToLower(base), known) {
				ext = known
				break
			}
		}
	}
	return name + "-*" + ext
}

// progressWriter turns written byte counts into Progress events, emitting
// at most one event per whole percent.
type progressWriter struct {
	ctx         context.Context
	name        string
	total       int64
	transferred int64
	progress    chan<- Progress
	last        int
}

func (w *progressWriter) Write(p []byte) (int, error) {
	w.transferred += int64(len(p))
	percent := 0
	if w.total > 0 {
		percent = int(w.transferred * 100 / w.total)
		if percent > 100 {
			percent = 100
		}
	}
	if percent != w.last {
		w.last = percent
		if err := w.emit(float64(percent)); err != nil {
			return 0, err
		}
	}
	return len(p), nil
}

func (w *progressWriter) finish() {
	if w.last == 100 {
		return
	}
	w.last = 100
	if w.total <= 0 {
		w.total = w.transferred
	}
	w.emit(100)
}

func (w *progressWriter) emit(percent float64) error {
	if w.progress == nil {
		return nil
	}
	select {
	case w.progress <- Progress{
		Name:             w.name,
		Percent:          percent,
		TotalBytes:       w.total,
		TransferredBytes: w.transferred,
	}:
		return nil
	case <-w.ctx.Done():
		return w.ctx.Err()
	}
}
