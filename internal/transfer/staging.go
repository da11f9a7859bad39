// ABOUTME: File staging for transfer steps: staged downloads, upload slots, one-time links.
// ABOUTME: Backs the coordinator's file endpoints that transfer command URLs point at.

package transfer

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
)

// ErrUnknownSlot indicates an upload arrived for a slot that was never allocated.
var ErrUnknownSlot = errors.New("unknown upload slot")

// ErrLinkSpent indicates a one-time download link was already redeemed.
var ErrLinkSpent = errors.New("link already used or unknown")

// Staging owns the coordinator-side file areas used by transfer steps:
//
//   - staging/: files the operator staged for agents to pull, served at
//     /files/download/staging/<name>
//   - inbox/<slot>/: per-slot upload destinations agents push to at
//     /files/upload/<slot>; a fresh slot is allocated per pull resolution
//
// It also issues one-time browser download links for pulled files.
type Staging struct {
	baseURL string
	root    string
	logger  *slog.Logger

	mu    sync.Mutex
	slots map[string]time.Time // slot ID -> allocation time
	links map[string]string    // one-time token -> absolute path
}

// NewStaging creates the staging areas under root. baseURL is the externally
// reachable coordinator address transfer URLs are built against.
func NewStaging(baseURL, root string, logger *slog.Logger) (*Staging, error) {
	for _, dir := range []string{filepath.Join(root, "staging"), filepath.Join(root, "inbox")} {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("creating upload directory: %w", err)
		}
	}
	return &Staging{
		baseURL: baseURL,
		root:    root,
		logger:  logger.With("component", "transfer"),
		slots:   make(map[string]time.Time),
		links:   make(map[string]string),
	}, nil
}

// StageFile writes the reader's content into the staging area under name and
// returns the URL agents can pull it from. The name is flattened to its base
// so callers cannot write outside the staging directory.
func (s *Staging) StageFile(name string, r io.Reader) (string, error) {
	name = filepath.Base(name)
	path := s.StagePath(name)

	out, err := os.Create(path)
	if err != nil {
		return "", fmt.Errorf("creating staged file: %w", err)
	}
	defer out.Close()

	if _, err := io.Copy(out, r); err != nil {
		return "", fmt.Errorf("writing staged file: %w", err)
	}
	if err := out.Close(); err != nil {
		return "", fmt.Errorf("closing staged file: %w", err)
	}

	s.logger.Info("file staged", "name", name)
	return s.DownloadURL(name), nil
}

// StageDirZip zips srcDir into the staging area as <name>.zip and returns
// the staged archive's download URL.
func (s *Staging) StageDirZip(name, srcDir string) (string, error) {
	name = filepath.Base(name) + ".zip"
	if err := ZipDir(srcDir, s.StagePath(name)); err != nil {
		return "", err
	}
	s.logger.Info("directory staged", "name", name, "src", srcDir)
	return s.DownloadURL(name), nil
}

// StagePath returns the filesystem path of a staged file. The URL for the
// same name is deterministic, so re-staging a file keeps its link stable.
func (s *Staging) StagePath(name string) string {
	return filepath.Join(s.root, "staging", filepath.Base(name))
}

// DownloadURL returns the agent-facing URL for a staged file name.
func (s *Staging) DownloadURL(name string) string {
	return s.baseURL + "/files/download/staging/" + filepath.Base(name)
}

// NewUploadSlot allocates a fresh, previously-unused upload slot and returns
// its ID and the URL agents push to. Every allocation mints a new ID.
func (s *Staging) NewUploadSlot() (string, string) {
	slotID := uuid.New().String()

	s.mu.Lock()
	s.slots[slotID] = time.Now()
	s.mu.Unlock()

	return slotID, s.baseURL + "/files/upload/" + slotID
}

// SaveUpload stores an uploaded file into its slot's inbox directory and
// returns the stored path. Uploads to unallocated slots are rejected.
func (s *Staging) SaveUpload(slotID, filename string, r io.Reader) (string, error) {
	s.mu.Lock()
	_, ok := s.slots[slotID]
	s.mu.Unlock()
	if !ok {
		return "", ErrUnknownSlot
	}

	dir := filepath.Join(s.root, "inbox", slotID)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("creating slot directory: %w", err)
	}

	path := filepath.Join(dir, filepath.Base(filename))
	out, err := os.Create(path)
	if err != nil {
		return "", fmt.Errorf("creating upload file: %w", err)
	}
	defer out.Close()

	if _, err := io.Copy(out, r); err != nil {
		return "", fmt.Errorf("writing upload: %w", err)
	}
	if err := out.Close(); err != nil {
		return "", fmt.Errorf("closing upload: %w", err)
	}

	s.logger.Info("upload received", "slot", slotID, "file", filepath.Base(filename))
	return path, nil
}

// SlotFiles lists the full paths of files received in a slot's inbox, if any.
func (s *Staging) SlotFiles(slotID string) ([]string, error) {
	dir := filepath.Join(s.root, "inbox", slotID)
	entries, err := os.ReadDir(dir)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading slot directory: %w", err)
	}

	var files []string
	for _, e := range entries {
		if !e.IsDir() {
			files = append(files, filepath.Join(dir, e.Name()))
		}
	}
	return files, nil
}

// OneTimeLink registers a single-use browser download for the given file and
// returns its URL. The token is spent on first redemption.
func (s *Staging) OneTimeLink(path string) string {
	token := uuid.New().String()

	s.mu.Lock()
	s.links[token] = path
	s.mu.Unlock()

	return s.baseURL + "/files/fetch/" + token
}

// RedeemLink consumes a one-time token and returns the path it pointed at.
func (s *Staging) RedeemLink(token string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	path, ok := s.links[token]
	if !ok {
		return "", ErrLinkSpent
	}
	delete(s.links, token)
	return path, nil
}
