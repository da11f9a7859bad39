// ABOUTME: Test helper for crafting zip archives with arbitrary entry names.

package transfer

import (
	"archive/zip"
	"os"
	"testing"

	"github.com/stretchr/testify/require"
)

func writeZipWithEntry(t *testing.T, path, entryName, content string) {
	t.Helper()

	f, err := os.Create(path)
	require.NoError(t, err)
	defer f.Close()

	w := zip.NewWriter(f)
	entry, err := w.Create(entryName)
	require.NoError(t, err)
	_, err = entry.Write([]byte(content))
	require.NoError(t, err)
	require.NoError(t, w.Close())
}
