package uploads

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path"
	"path/filepath"
	"strings"

	"prestacao.org/internal/ids"
)

// URLPrefix is the public path under which stored files are served.
const URLPrefix = "/uploads/"

var ErrTooLarge = errors.New("file exceeds upload limit")

// Storage writes uploaded files to a local directory under time-ordered names.
type Storage struct {
	dir string
	max int64
}

// Stored describes a file after it has been written.
type Stored struct {
	Name string
	URL  string
	Size int64
}

// New creates dir if needed. max is the per-file byte limit.
func New(dir string, max int64) (*Storage, error) {
	if dir == "" {
		return nil, errors.New("upload dir is required")
	}
	if max <= 0 {
		return nil, fmt.Errorf("invalid upload limit %d", max)
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create upload dir: %w", err)
	}
	return &Storage{dir: dir, max: max}, nil
}

func (s *Storage) MaxBytes() int64 { return s.max }

// Save streams r into a new file named <ulid><ext>. Files larger than the
// limit are discarded and ErrTooLarge is returned.
func (s *Storage) Save(originalName string, r io.Reader) (Stored, error) {
	name := ids.New() + cleanExt(originalName)
	tmp, err := os.CreateTemp(s.dir, ".upload-*")
	if err != nil {
		return Stored{}, err
	}
	tmpName := tmp.Name()
	cleanup := func() { _ = os.Remove(tmpName) }

	n, err := io.Copy(tmp, io.LimitReader(r, s.max+1))
	if cerr := tmp.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		cleanup()
		return Stored{}, fmt.Errorf("write upload: %w", err)
	}
	if n > s.max {
		cleanup()
		return Stored{}, ErrTooLarge
	}
	if err := os.Rename(tmpName, filepath.Join(s.dir, name)); err != nil {
		cleanup()
		return Stored{}, err
	}
	return Stored{Name: name, URL: URLPrefix + name, Size: n}, nil
}

// Remove deletes a stored file by its public URL or bare name. Missing files are ignored.
func (s *Storage) Remove(urlOrName string) error {
	name := path.Base(strings.TrimPrefix(urlOrName, URLPrefix))
	if name == "." || name == "/" || name == "" || strings.HasPrefix(name, ".") {
		return nil
	}
	err := os.Remove(filepath.Join(s.dir, name))
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	return err
}

// Handler serves stored files. Directory listings and dotfiles are hidden.
func (s *Storage) Handler() http.Handler {
	files := http.StripPrefix(strings.TrimSuffix(URLPrefix, "/"), http.FileServer(http.Dir(s.dir)))
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		name := strings.TrimPrefix(r.URL.Path, URLPrefix)
		if name == "" || strings.Contains(name, "/") || strings.HasPrefix(name, ".") {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("X-Content-Type-Options", "nosniff")
		files.ServeHTTP(w, r)
	})
}

// cleanExt keeps a short alphanumeric extension from the client-supplied name.
func cleanExt(name string) string {
	ext := strings.ToLower(filepath.Ext(filepath.Base(name)))
	if len(ext) < 2 || len(ext) > 8 {
		return ""
	}
	for _, r := range ext[1:] {
		if (r < 'a' || r > 'z') && (r < '0' || r > '9') {
			return ""
		}
	}
	return ext
}
