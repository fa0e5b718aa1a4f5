// Package npz - NumPy .npz archive reading and writing.
//
// An archive is a zip file holding one .npy entry per named array. Arrays are encoded
// and decoded with gorgonia's tensor npy codec.
package npz

import (
	"archive/zip"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/pkg/errors"
	"gorgonia.org/tensor"
)

const entrySuffix = ".npy"

// ErrMissingKey is returned by Lookup when the archive has no array of that name.
var ErrMissingKey = errors.New("npz: missing key")

// Archive is the decoded content of an .npz file, keyed by array name.
type Archive map[string]*tensor.Dense

// Keys returns the array names in sorted order.
func (a Archive) Keys() []string {
	keys := make([]string, 0, len(a))
	for k := range a {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Lookup returns the named array.
//
// Arguments:
//   - key: The array name without the .npy suffix.
//
// Returns:
//   - *tensor.Dense: The array.
//   - error: ErrMissingKey if the archive does not hold it.
func (a Archive) Lookup(key string) (*tensor.Dense, error) {
	t, ok := a[key]
	if !ok {
		return nil, errors.Wrapf(ErrMissingKey, "%q", key)
	}
	return t, nil
}

// Read opens and decodes an .npz file.
//
// Arguments:
//   - path: The archive path.
//
// Returns:
//   - Archive: Every .npy entry of the file.
//   - error: An error if the file cannot be opened or an entry cannot be decoded.
func Read(path string) (Archive, error) {
	r, err := zip.OpenReader(path)
	if err != nil {
		return nil, errors.Wrapf(err, "opening %s", path)
	}
	defer r.Close()

	out := make(Archive, len(r.File))
	for _, f := range r.File {
		if !strings.HasSuffix(f.Name, entrySuffix) {
			continue
		}
		t, err := readEntry(f)
		if err != nil {
			return nil, errors.Wrapf(err, "%s: entry %s", path, f.Name)
		}
		out[strings.TrimSuffix(f.Name, entrySuffix)] = t
	}
	return out, nil
}

func readEntry(f *zip.File) (*tensor.Dense, error) {
	rc, err := f.Open()
	if err != nil {
		return nil, err
	}
	defer rc.Close()

	t := new(tensor.Dense)
	if err := t.ReadNpy(rc); err != nil {
		return nil, fmt.Errorf("decoding npy: %w", err)
	}
	return t, nil
}

// Write encodes the arrays into a deflate-compressed .npz file, creating parent
// directories as needed. Entries are written in sorted key order.
//
// Arguments:
//   - path: The destination path.
//   - arrays: The arrays to store, keyed by name.
//
// Returns:
//   - error: An error if the file cannot be created or an array cannot be encoded.
func Write(path string, arrays Archive) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return errors.Wrapf(err, "creating directory for %s", path)
	}
	f, err := os.Create(path)
	if err != nil {
		return errors.Wrapf(err, "creating %s", path)
	}
	if err := Encode(f, arrays); err != nil {
		f.Close()
		return errors.Wrapf(err, "writing %s", path)
	}
	return f.Close()
}

// Encode writes the arrays as a deflate-compressed zip stream to w.
func Encode(w io.Writer, arrays Archive) error {
	zw := zip.NewWriter(w)
	for _, key := range arrays.Keys() {
		entry, err := zw.CreateHeader(&zip.FileHeader{Name: key + entrySuffix, Method: zip.Deflate})
		if err != nil {
			return err
		}
		if err := arrays[key].WriteNpy(entry); err != nil {
			return fmt.Errorf("encoding %s: %w", key, err)
		}
	}
	return zw.Close()
}
