// ABOUTME: HTTP file transfer for the agent: downloads to disk, multipart uploads.
// ABOUTME: Used by the transfer command kinds and by self-update.

package executor

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"time"
)

// Transferer moves files between the agent and coordinator URLs.
type Transferer struct {
	client *http.Client
	logger *slog.Logger
}

// NewTransferer creates a Transferer with a bounded-time HTTP client.
func NewTransferer(logger *slog.Logger) *Transferer {
	return &Transferer{
		client: &http.Client{Timeout: 10 * time.Minute},
		logger: logger,
	}
}

// Download fetches url into destPath, creating parent directories as needed.
func (t *Transferer) Download(ctx context.Context, url, destPath string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("building download request: %w", err)
	}

	resp, err := t.client.Do(req)
	if err != nil {
		return fmt.Errorf("downloading %s: %w", url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("downloading %s: server returned %s", url, resp.Status)
	}

	if err := os.MkdirAll(filepath.Dir(destPath), 0755); err != nil {
		return fmt.Errorf("creating destination directory: %w", err)
	}

	out, err := os.Create(destPath)
	if err != nil {
		return fmt.Errorf("creating %s: %w", destPath, err)
	}
	defer out.Close()

	n, err := io.Copy(out, resp.Body)
	if err != nil {
		return fmt.Errorf("writing %s: %w", destPath, err)
	}
	if err := out.Close(); err != nil {
		return fmt.Errorf("closing %s: %w", destPath, err)
	}

	t.logger.Info("download complete", "url", url, "dest", destPath, "bytes", n)
	return nil
}

// Upload posts srcPath to uploadURL as a multipart "file" field, keeping the
// source file's base name.
func (t *Transferer) Upload(ctx context.Context, srcPath, uploadURL string) error {
	return t.UploadAs(ctx, srcPath, filepath.Base(srcPath), uploadURL)
}

// UploadAs is Upload with an explicit file name for the multipart part.
//
// The body is streamed through a pipe, so large files never sit in memory.
func (t *Transferer) UploadAs(ctx context.Context, srcPath, name, uploadURL string) error {
	src, err := os.Open(srcPath)
	if err != nil {
		return fmt.Errorf("opening %s: %w", srcPath, err)
	}
	defer src.Close()

	pr, pw := io.Pipe()
	writer := multipart.NewWriter(pw)

	go func() {
		part, err := writer.CreateFormFile("file", name)
		if err != nil {
			pw.CloseWithError(err)
			return
		}
		if _, err := io.Copy(part, src); err != nil {
			pw.CloseWithError(err)
			return
		}
		pw.CloseWithError(writer.Close())
	}()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, uploadURL, pr)
	if err != nil {
		return fmt.Errorf("building upload request: %w", err)
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())

	resp, err := t.client.Do(req)
	if err != nil {
		return fmt.Errorf("uploading to %s: %w", uploadURL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusCreated && resp.StatusCode != http.StatusOK {
		return fmt.Errorf("uploading to %s: server returned %s", uploadURL, resp.Status)
	}

	t.logger.Info("upload complete", "src", srcPath, "url", uploadURL)
	return nil
}
