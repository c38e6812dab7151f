package filex

import (
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestEnsureDir_CreatesAndIsIdempotent(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "a", "b")

	require.NoError(t, EnsureDir(dir))
	require.NoError(t, EnsureDir(dir))

	fi, err := os.Stat(dir)
	require.NoError(t, err)
	require.True(t, fi.IsDir())

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Empty(t, entries, "write check file must be removed")
}

func TestEnsureDir_FailsIfFileWithSameNameExists(t *testing.T) {
	path := filepath.Join(t.TempDir(), "file")
	require.NoError(t, os.WriteFile(path, []byte("x"), 0o600))

	require.Error(t, EnsureDir(path))
}

func TestWriteAtomic(t *testing.T) {
	dir := t.TempDir()

	err := WriteAtomic(dir, "out.zip", func(w io.Writer) error {
		_, err := w.Write([]byte("payload"))
		return err
	})
	require.NoError(t, err)

	b, err := os.ReadFile(filepath.Join(dir, "out.zip"))
	require.NoError(t, err)
	require.Equal(t, "payload", string(b))
	require.True(t, Exists(filepath.Join(dir, "out.zip")))
}

func TestWriteAtomic_FailureLeavesNothing(t *testing.T) {
	dir := t.TempDir()

	err := WriteAtomic(dir, "out.zip", func(w io.Writer) error {
		_, _ = w.Write([]byte("partial"))
		return errors.New("disk full")
	})
	require.Error(t, err)

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Empty(t, entries)
}

func TestSidecarRoundTrip(t *testing.T) {
	dir := t.TempDir()
	digest := SHA256([]byte("archive"))

	require.NoError(t, WriteSidecar(dir, "a.zip", digest))
	got, err := ReadSidecar(dir, "a.zip")
	require.NoError(t, err)
	require.Equal(t, digest, got)

	require.NoError(t, os.WriteFile(filepath.Join(dir, SidecarName("b.zip")), []byte("zz  other.zip\n"), 0o600))
	_, err = ReadSidecar(dir, "b.zip")
	require.Error(t, err)
}

func TestWriteSidecarAs_ListsFinalName(t *testing.T) {
	dir := t.TempDir()
	digest := SHA256([]byte("archive"))

	require.NoError(t, WriteSidecarAs(dir, "a.zip.part", "a.zip", digest))
	_, err := ReadSidecar(dir, "a.zip.part")
	require.Error(t, err)

	require.NoError(t, os.Rename(filepath.Join(dir, SidecarName("a.zip.part")), filepath.Join(dir, SidecarName("a.zip"))))
	got, err := ReadSidecar(dir, "a.zip")
	require.NoError(t, err)
	require.Equal(t, digest, got)
}
