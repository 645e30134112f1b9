package roomchat

import (
	"crypto/sha1"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"net/http"
	"path"
	"strings"
)

// StaticFS serves a single page web client. Unknown paths fall back to the
// entry file, and every file carries an etag and an optional cache control header.
type StaticFS struct {
	http.FileSystem
	etags map[string]string
	// cacheControl maps file paths to Cache-Control values
	cacheControl map[string]string
	fallbackFile string
}

// Open returns the named file, or the fallback file if it does not exist.
func (s *StaticFS) Open(name string) (http.File, error) {
	f, err := s.FileSystem.Open(name)
	if errors.Is(err, fs.ErrNotExist) {
		return s.FileSystem.Open("/" + s.fallbackFile)
	}
	return f, err
}

// NewStaticFS indexes fsys. cacheControl maps globs (path.Match syntax) to Cache-Control values.
func NewStaticFS(fsys fs.FS, fallback string, cacheControl map[string]string) (*StaticFS, error) {
	if _, err := fs.Stat(fsys, fallback); err != nil {
		return nil, fmt.Errorf("fallback file %s: %w", fallback, err)
	}

	s := &StaticFS{
		FileSystem:   http.FS(fsys),
		etags:        make(map[string]string),
		cacheControl: make(map[string]string),
		fallbackFile: fallback,
	}

	err := fs.WalkDir(fsys, ".", func(p string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return err
		}
		etag, err := fileEtag(fsys, p)
		if err != nil {
			return err
		}
		s.etags[p] = etag
		for glob, cc := range cacheControl {
			matched, err := path.Match(glob, p)
			if err != nil {
				return fmt.Errorf("matching %s: %w", p, err)
			}
			if matched {
				s.cacheControl[p] = cc
				break
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("indexing static files: %w", err)
	}
	return s, nil
}

func fileEtag(fsys fs.FS, p string) (string, error) {
	f, err := fsys.Open(p)
	if err != nil {
		return "", fmt.Errorf("opening %s: %w", p, err)
	}
	defer f.Close()
	h := sha1.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", fmt.Errorf("hashing %s: %w", p, err)
	}
	return `"` + hex.EncodeToString(h.Sum(nil)) + `"`, nil
}

func (s *StaticFS) EtagMiddleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			p := strings.TrimPrefix(r.URL.Path, "/")
			etag, ok := s.etags[p]
			if !ok {
				p = s.fallbackFile
				etag, ok = s.etags[p]
			}
			if ok {
				if r.Header.Get("If-None-Match") == etag {
					w.WriteHeader(http.StatusNotModified)
					return
				}
				w.Header().Set("Etag", etag)
				if cc, ok := s.cacheControl[p]; ok {
					w.Header().Set("Cache-Control", cc)
				}
			}
			next.ServeHTTP(w, r)
		})
	}
}
