// Package filex holds small file system helpers for archive output.
package filex

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

// EnsureDir creates dir if needed and checks that it is a writable directory.
func EnsureDir(dir string) error {
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return fmt.Errorf("mkdir %s: %w", dir, err)
	}
	fi, err := os.Stat(dir)
	if err != nil {
		return err
	}
	if !fi.IsDir() {
		return fmt.Errorf("%s is not a directory", dir)
	}
	f, err := os.CreateTemp(dir, ".writecheck-*")
	if err != nil {
		return fmt.Errorf("%s is not writable: %w", dir, err)
	}
	name := f.Name()
	_ = f.Close()
	return os.Remove(name)
}

// WriteAtomic writes the output of write to dir/name through a temporary
// file, syncing it before the rename.
func WriteAtomic(dir, name string, write func(w io.Writer) error) (err error) {
	tmp, err := os.CreateTemp(dir, "."+name+".tmp-*")
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			_ = tmp.Close()
			_ = os.Remove(tmp.Name())
		}
	}()

	if err = write(tmp); err != nil {
		return err
	}
	if err = tmp.Sync(); err != nil {
		return err
	}
	if err = tmp.Close(); err != nil {
		return err
	}
	if err = os.Rename(tmp.Name(), filepath.Join(dir, name)); err != nil {
		return err
	}
	return syncDir(dir)
}

func syncDir(dir string) error {
	d, err := os.Open(dir)
	if err != nil {
		return err
	}
	defer d.Close()
	if err := d.Sync(); err != nil && !errors.Is(err, os.ErrInvalid) {
		return err
	}
	return nil
}

// Exists reports whether path exists.
func Exists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

// SidecarName is the checksum file stored next to name.
func SidecarName(name string) string {
	return name + ".sha256"
}

// WriteSidecar stores digest for dir/name in sha256sum format.
func WriteSidecar(dir, name string, digest []byte) error {
	return WriteSidecarAs(dir, name, name, digest)
}

// WriteSidecarAs writes the sidecar of file listing digest under name, for a
// file that is renamed to name later.
func WriteSidecarAs(dir, file, name string, digest []byte) error {
	line := hex.EncodeToString(digest) + "  " + name + "\n"
	return WriteAtomic(dir, SidecarName(file), func(w io.Writer) error {
		_, err := io.WriteString(w, line)
		return err
	})
}

// ReadSidecar returns the digest recorded for dir/name.
func ReadSidecar(dir, name string) ([]byte, error) {
	b, err := os.ReadFile(filepath.Join(dir, SidecarName(name)))
	if err != nil {
		return nil, err
	}
	fields := strings.Fields(string(b))
	if len(fields) != 2 || fields[1] != name {
		return nil, fmt.Errorf("malformed checksum file for %s", name)
	}
	return hex.DecodeString(fields[0])
}

// SHA256 returns the digest of data.
func SHA256(data []byte) []byte {
	sum := sha256.Sum256(data)
	return sum[:]
}
