package archive

import (
	"io"
	"path/filepath"
	"time"

	"github.com/pkg/errors"
	"github.com/spf13/afero"

	"github.com/ndelvalle/papertrail-downloader/pkg/timerange"
)

// Extension is appended to every archive file. Archives are gzipped TSV
// and are stored as received.
const Extension = ".tsv.gz"

const tempPattern = ".papertrail-*.part"

// FileName returns the name of the file holding the archive for hour.
func FileName(hour time.Time) string {
	return timerange.Format(hour) + Extension
}

// Store writes hourly archives into a single directory.
type Store struct {
	fs  afero.Fs
	dir string
}

// NewStore returns a store rooted at dir on the host filesystem.
func NewStore(dir string) *Store {
	return NewStoreWithFS(afero.NewOsFs(), dir)
}

// NewStoreWithFS returns a store rooted at dir on fs.
func NewStoreWithFS(fs afero.Fs, dir string) *Store {
	return &Store{fs: fs, dir: dir}
}

// Dir returns the directory archives are written to.
func (s *Store) Dir() string {
	return s.dir
}

// EnsureDir creates the output directory if it does not exist.
func (s *Store) EnsureDir() error {
	if err := s.fs.MkdirAll(s.dir, 0o755); err != nil {
		return errors.Wrapf(err, "create output directory %s", s.dir)
	}
	return nil
}

// Path returns the full path of the archive for hour.
func (s *Store) Path(hour time.Time) string {
	return filepath.Join(s.dir, FileName(hour))
}

// Exists reports whether a non-empty archive for hour is already stored.
func (s *Store) Exists(hour time.Time) bool {
	info, err := s.fs.Stat(s.Path(hour))
	if err != nil {
		return false
	}
	return info.Mode().IsRegular() && info.Size() > 0
}

// Write copies r into the archive file for hour, replacing any previous
// file. The data is staged in a temporary file next to the destination so
// a failed copy leaves the destination untouched.
func (s *Store) Write(hour time.Time, r io.Reader, buf []byte) (written int64, path string, err error) {
	path = s.Path(hour)

	tmp, err := afero.TempFile(s.fs, s.dir, tempPattern)
	if err != nil {
		return 0, "", errors.Wrapf(err, "create temp file in %s", s.dir)
	}
	tmpName := tmp.Name()
	defer func() {
		if err != nil {
			_ = tmp.Close()
			_ = s.fs.Remove(tmpName)
		}
	}()

	if buf == nil {
		written, err = io.Copy(tmp, r)
	} else {
		written, err = io.CopyBuffer(tmp, r, buf)
	}
	if err != nil {
		return written, "", errors.Wrapf(err, "write %s", FileName(hour))
	}

	if err = tmp.Close(); err != nil {
		return written, "", errors.Wrapf(err, "close %s", tmpName)
	}
	if err = s.fs.Chmod(tmpName, 0o644); err != nil {
		return written, "", errors.Wrapf(err, "chmod %s", tmpName)
	}
	if err = s.fs.Rename(tmpName, path); err != nil {
		return written, "", errors.Wrapf(err, "move archive to %s", path)
	}

	return written, path, nil
}
