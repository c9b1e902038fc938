package objstore

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"
)

// DirStore is a RemoteStore backed by a local directory.
// Directory structure:
//
//	{root}/
//	  {bucket}/
//	    {key}          # one regular file per object, key segments as subdirectories
type DirStore struct {
	root string
}

var _ RemoteStore = (*DirStore)(nil)

// NewDirStore creates a store rooted at dir, which must exist.
func NewDirStore(dir string) (*DirStore, error) {
	info, err := os.Stat(dir)
	if err != nil {
		return nil, fmt.Errorf("stat store root: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("store root %s is not a directory", dir)
	}
	return &DirStore{root: dir}, nil
}

// Root returns the store's root directory.
func (s *DirStore) Root() string {
	return s.root
}

// validateName rejects bucket names and keys that would escape the root.
func validateName(bucket, key string) error {
	if bucket == "" || bucket == "." || bucket == ".." || strings.ContainsAny(bucket, `/\`) {
		return fmt.Errorf("bucket %q: %w", bucket, ErrInvalidName)
	}
	for _, segment := range strings.Split(key, "/") {
		if segment == ".." {
			return fmt.Errorf("key %q: %w", key, ErrInvalidName)
		}
	}
	return nil
}

func (s *DirStore) bucketPath(bucket string) string {
	return filepath.Join(s.root, bucket)
}

func (s *DirStore) objectPath(bucket, key string) string {
	return filepath.Join(s.root, bucket, filepath.FromSlash(key))
}

// HeadSize returns the size of the regular file holding the object.
func (s *DirStore) HeadSize(ctx context.Context, bucket, key string) (int64, error) {
	if err := validateName(bucket, key); err != nil {
		return 0, err
	}
	info, err := os.Stat(s.objectPath(bucket, key))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return 0, fmt.Errorf("%s/%s: %w", bucket, key, ErrNotFound)
		}
		return 0, fmt.Errorf("%s/%s: %w: %w", bucket, key, ErrRemoteUnavailable, err)
	}
	if !info.Mode().IsRegular() || strings.HasSuffix(key, "/") {
		return 0, fmt.Errorf("%s/%s: %w", bucket, key, ErrNotFound)
	}
	return info.Size(), nil
}

// FetchRange reads [start, end) of the object.
func (s *DirStore) FetchRange(ctx context.Context, bucket, key string, start, end int64) ([]byte, error) {
	if err := validateName(bucket, key); err != nil {
		return nil, err
	}
	if start < 0 || end < start {
		return nil, fmt.Errorf("%s/%s [%d,%d): %w", bucket, key, start, end, ErrInvalidRange)
	}

	f, err := os.Open(s.objectPath(bucket, key))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%s/%s: %w", bucket, key, ErrNotFound)
		}
		return nil, fmt.Errorf("%s/%s: %w: %w", bucket, key, ErrRemoteUnavailable, err)
	}
	defer func() { _ = f.Close() }()

	data := make([]byte, end-start)
	n, err := f.ReadAt(data, start)
	if err != nil && !(errors.Is(err, io.EOF) && int64(n) == end-start) {
		if errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("%s/%s [%d,%d): %w", bucket, key, start, end, ErrInvalidRange)
		}
		return nil, fmt.Errorf("%s/%s: %w: %w", bucket, key, ErrRemoteUnavailable, err)
	}
	return data, nil
}

// ListPrefix walks the bucket directory and returns object keys starting
// with prefix in lexical order.
func (s *DirStore) ListPrefix(ctx context.Context, bucket, prefix string, maxResults int) ([]string, error) {
	if err := validateName(bucket, ""); err != nil {
		return nil, err
	}
	bucketDir := s.bucketPath(bucket)
	info, err := os.Stat(bucketDir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("bucket %s: %w", bucket, ErrNotFound)
		}
		return nil, fmt.Errorf("bucket %s: %w: %w", bucket, ErrRemoteUnavailable, err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("bucket %s: %w", bucket, ErrNotFound)
	}

	keys := []string{}
	err = filepath.WalkDir(bucketDir, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		rel, err := filepath.Rel(bucketDir, p)
		if err != nil {
			return err
		}
		key := filepath.ToSlash(rel)
		if d.IsDir() {
			if key == "." {
				return nil
			}
			// Skip subtrees whose keys can never carry the prefix.
			dirKey := key + "/"
			if !strings.HasPrefix(dirKey, prefix) && !strings.HasPrefix(prefix, dirKey) {
				return filepath.SkipDir
			}
			return nil
		}
		if d.Type().IsRegular() && strings.HasPrefix(key, prefix) {
			keys = append(keys, path.Clean(key))
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("list %s prefix %q: %w: %w", bucket, prefix, ErrRemoteUnavailable, err)
	}

	// Walk order is per path component, which differs from byte order of
	// full keys ("a/b" is visited before "a.txt").
	sort.Strings(keys)
	if maxResults > 0 && len(keys) > maxResults {
		keys = keys[:maxResults]
	}
	return keys, nil
}
