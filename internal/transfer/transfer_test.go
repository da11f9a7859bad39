// ABOUTME: Tests for the staging area and zip helpers.
// ABOUTME: Covers slot allocation, one-time links, upload rejection and archive round trips.

package transfer

import (
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStaging(t *testing.T) *Staging {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	s, err := NewStaging("http://coordinator:8080", t.TempDir(), logger)
	require.NoError(t, err)
	return s
}

func TestStageFileAndDownloadURL(t *testing.T) {
	s := newTestStaging(t)

	url, err := s.StageFile("app.tar", strings.NewReader("payload"))
	require.NoError(t, err)
	assert.Equal(t, "http://coordinator:8080/files/download/staging/app.tar", url)

	data, err := os.ReadFile(s.StagePath("app.tar"))
	require.NoError(t, err)
	assert.Equal(t, "payload", string(data))

	// Re-staging the same name keeps the URL stable.
	again, err := s.StageFile("app.tar", strings.NewReader("v2"))
	require.NoError(t, err)
	assert.Equal(t, url, again)
}

func TestStageFileFlattensPath(t *testing.T) {
	s := newTestStaging(t)

	url, err := s.StageFile("../../etc/passwd", strings.NewReader("x"))
	require.NoError(t, err)
	assert.Equal(t, "http://coordinator:8080/files/download/staging/passwd", url)

	_, err = os.Stat(s.StagePath("passwd"))
	assert.NoError(t, err)
}

func TestUploadSlotsAreUnique(t *testing.T) {
	s := newTestStaging(t)

	seen := make(map[string]bool)
	for i := 0; i < 50; i++ {
		slotID, url := s.NewUploadSlot()
		assert.False(t, seen[slotID], "slot %s allocated twice", slotID)
		seen[slotID] = true
		assert.Equal(t, "http://coordinator:8080/files/upload/"+slotID, url)
	}
}

func TestSaveUploadRejectsUnknownSlot(t *testing.T) {
	s := newTestStaging(t)

	_, err := s.SaveUpload("never-allocated", "f.txt", strings.NewReader("x"))
	assert.ErrorIs(t, err, ErrUnknownSlot)
}

func TestSaveUploadAndSlotFiles(t *testing.T) {
	s := newTestStaging(t)
	slotID, _ := s.NewUploadSlot()

	path, err := s.SaveUpload(slotID, "/sneaky/../report.csv", strings.NewReader("rows"))
	require.NoError(t, err)
	assert.Equal(t, "report.csv", filepath.Base(path))

	files, err := s.SlotFiles(slotID)
	require.NoError(t, err)
	require.Len(t, files, 1)
	assert.Equal(t, path, files[0])

	data, err := os.ReadFile(files[0])
	require.NoError(t, err)
	assert.Equal(t, "rows", string(data))
}

func TestSlotFilesEmptyForUnusedSlot(t *testing.T) {
	s := newTestStaging(t)
	slotID, _ := s.NewUploadSlot()

	files, err := s.SlotFiles(slotID)
	require.NoError(t, err)
	assert.Empty(t, files)
}

func TestOneTimeLinkIsSpentOnRedeem(t *testing.T) {
	s := newTestStaging(t)

	url := s.OneTimeLink("/uploads/inbox/slot-1/report.csv")
	token := url[strings.LastIndex(url, "/")+1:]

	path, err := s.RedeemLink(token)
	require.NoError(t, err)
	assert.Equal(t, "/uploads/inbox/slot-1/report.csv", path)

	_, err = s.RedeemLink(token)
	assert.ErrorIs(t, err, ErrLinkSpent)
}

func TestRedeemUnknownToken(t *testing.T) {
	s := newTestStaging(t)
	_, err := s.RedeemLink("nope")
	assert.ErrorIs(t, err, ErrLinkSpent)
}

func TestZipRoundTrip(t *testing.T) {
	src := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(src, "sub"), 0755))
	require.NoError(t, os.WriteFile(filepath.Join(src, "top.txt"), []byte("top"), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(src, "sub", "nested.txt"), []byte("nested"), 0644))

	zipPath := filepath.Join(t.TempDir(), "archive.zip")
	require.NoError(t, ZipDir(src, zipPath))

	dest := t.TempDir()
	require.NoError(t, Unzip(zipPath, dest))

	top, err := os.ReadFile(filepath.Join(dest, "top.txt"))
	require.NoError(t, err)
	assert.Equal(t, "top", string(top))

	nested, err := os.ReadFile(filepath.Join(dest, "sub", "nested.txt"))
	require.NoError(t, err)
	assert.Equal(t, "nested", string(nested))
}

func TestUnzipRejectsTraversal(t *testing.T) {
	// A crafted archive with an entry escaping the destination must fail.
	zipPath := filepath.Join(t.TempDir(), "evil.zip")
	writeZipWithEntry(t, zipPath, "../escape.txt", "bad")

	err := Unzip(zipPath, t.TempDir())
	assert.Error(t, err)
}

func TestStageDirZip(t *testing.T) {
	s := newTestStaging(t)

	src := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(src, "a.txt"), []byte("a"), 0644))

	url, err := s.StageDirZip("bundle", src)
	require.NoError(t, err)
	assert.Equal(t, "http://coordinator:8080/files/download/staging/bundle.zip", url)

	_, err = os.Stat(s.StagePath("bundle.zip"))
	assert.NoError(t, err)
}
