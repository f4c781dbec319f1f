package storage

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"lanshare/pkg/logger"
)

var ErrFileNotFound = errors.New("file not found in shared folder")

// LocalFile is a regular file found under the shared folder.
type LocalFile struct {
	Path string
	Name string
	Size int64
	Hash string
}

// Scanner enumerates the shared folder. Directories listed in Excluded are
// skipped along with everything below them.
type Scanner struct {
	Root     string
	Excluded []string
	Cache    *HashCache
}

func NewScanner(root string, excluded []string, cache *HashCache) *Scanner {
	abs := make([]string, 0, len(excluded))
	for _, e := range excluded {
		if p, err := filepath.Abs(e); err == nil {
			abs = append(abs, filepath.Clean(p))
		}
	}
	return &Scanner{Root: root, Excluded: abs, Cache: cache}
}

func (s *Scanner) excluded(path string) bool {
	abs, err := filepath.Abs(path)
	if err != nil {
		return false
	}
	for _, e := range s.Excluded {
		if abs == e {
			return true
		}
	}
	return false
}

// walk visits every regular, non-excluded file. fn returning false stops the
// walk early.
func (s *Scanner) walk(fn func(path string, info os.FileInfo) bool) error {
	if s.Root == "" {
		return nil
	}
	stop := errors.New("stop")
	err := filepath.WalkDir(s.Root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			// unreadable entries are skipped, the rest of the tree still counts
			logger.Sugar.Debugf("[Scanner] skipping %s: %v", path, err)
			if d != nil && d.IsDir() {
				return fs.SkipDir
			}
			return nil
		}
		if d.IsDir() {
			if path != s.Root && s.excluded(path) {
				return fs.SkipDir
			}
			return nil
		}
		if !d.Type().IsRegular() || strings.HasSuffix(d.Name(), PartialSuffix) {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return nil
		}
		if !fn(path, info) {
			return stop
		}
		return nil
	})
	if errors.Is(err, stop) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to walk %s: %w", s.Root, err)
	}
	return nil
}

// Scan hashes every shared file. Files that cannot be hashed are logged and
// left out. Cache entries for files no longer present are dropped.
func (s *Scanner) Scan() ([]LocalFile, error) {
	var files []LocalFile
	seen := make(map[string]struct{})
	err := s.walk(func(path string, info os.FileInfo) bool {
		seen[path] = struct{}{}
		sum, err := s.Cache.Hash(path, info)
		if err != nil {
			logger.Sugar.Warnf("[Scanner] failed to hash %s: %v", path, err)
			return true
		}
		files = append(files, LocalFile{Path: path, Name: info.Name(), Size: info.Size(), Hash: sum})
		return true
	})
	if err != nil {
		return nil, err
	}
	s.Cache.Retain(seen)
	return files, nil
}

// FindByHash returns the first shared file whose content hash is hash.
func (s *Scanner) FindByHash(hash string) (LocalFile, error) {
	var found *LocalFile
	err := s.walk(func(path string, info os.FileInfo) bool {
		sum, err := s.Cache.Hash(path, info)
		if err != nil || sum != hash {
			return true
		}
		found = &LocalFile{Path: path, Name: info.Name(), Size: info.Size(), Hash: sum}
		return false
	})
	if err != nil {
		return LocalFile{}, err
	}
	if found == nil {
		return LocalFile{}, fmt.Errorf("%w: %s", ErrFileNotFound, hash)
	}
	return *found, nil
}
