// internal/storage/blob_storage.go
package storage

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
)

// ErrBlobTooLarge is returned when an upload exceeds the configured limit.
var ErrBlobTooLarge = errors.New("blob exceeds size limit")

// ErrInvalidPath is returned for names that would escape the storage root.
var ErrInvalidPath = errors.New("invalid blob path")

// BlobStorage keeps attachment bytes on disk, one directory per protocol.
type BlobStorage struct {
	BaseDir string

	fileLocks sync.Map // path -> *sync.RWMutex
}

// BlobInfo describes a stored blob.
type BlobInfo struct {
	Path   string
	Size   int64
	SHA256 string
}

// NewBlobStorage creates the root directory if needed.
func NewBlobStorage(baseDir string) (*BlobStorage, error) {
	if err := os.MkdirAll(baseDir, 0755); err != nil {
		return nil, fmt.Errorf("create upload dir: %w", err)
	}
	return &BlobStorage{BaseDir: baseDir}, nil
}

func (bs *BlobStorage) getFileLock(fullPath string) *sync.RWMutex {
	value, _ := bs.fileLocks.LoadOrStore(fullPath, &sync.RWMutex{})
	return value.(*sync.RWMutex)
}

// resolve joins dir and name under BaseDir, rejecting anything that is not a plain name.
func (bs *BlobStorage) resolve(dir, name string) (string, error) {
	for _, part := range []string{dir, name} {
		if part == "" || part == "." || part == ".." || filepath.Base(part) != part {
			return "", fmt.Errorf("%w: %q", ErrInvalidPath, part)
		}
	}
	return filepath.Join(bs.BaseDir, dir, name), nil
}

// SaveBlob streams r into dir/name. At most limit bytes are accepted; a larger body
// leaves nothing behind and returns ErrBlobTooLarge.
func (bs *BlobStorage) SaveBlob(dir, name string, r io.Reader, limit int64) (*BlobInfo, error) {
	fullPath, err := bs.resolve(dir, name)
	if err != nil {
		return nil, err
	}

	lock := bs.getFileLock(fullPath)
	lock.Lock()
	defer lock.Unlock()

	if err := os.MkdirAll(filepath.Dir(fullPath), 0755); err != nil {
		return nil, fmt.Errorf("create blob dir: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(fullPath), name+".*.tmp")
	if err != nil {
		return nil, fmt.Errorf("create temp file: %w", err)
	}
	tempPath := tmp.Name()
	committed := false
	defer func() {
		if !committed {
			os.Remove(tempPath)
		}
	}()

	hash := sha256.New()
	src := r
	if limit > 0 {
		src = io.LimitReader(r, limit+1)
	}
	n, err := io.Copy(io.MultiWriter(tmp, hash), src)
	if closeErr := tmp.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		return nil, fmt.Errorf("write blob: %w", err)
	}
	if limit > 0 && n > limit {
		return nil, ErrBlobTooLarge
	}

	if err := os.Rename(tempPath, fullPath); err != nil {
		return nil, fmt.Errorf("save blob: %w", err)
	}
	committed = true

	return &BlobInfo{Path: fullPath, Size: n, SHA256: hex.EncodeToString(hash.Sum(nil))}, nil
}

// OpenBlob opens a stored blob for reading. The caller closes it.
func (bs *BlobStorage) OpenBlob(dir, name string) (*os.File, os.FileInfo, error) {
	fullPath, err := bs.resolve(dir, name)
	if err != nil {
		return nil, nil, err
	}

	lock := bs.getFileLock(fullPath)
	lock.RLock()
	defer lock.RUnlock()

	f, err := os.Open(fullPath)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil, ErrNotFound
	}
	if err != nil {
		return nil, nil, fmt.Errorf("open blob: %w", err)
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, nil, fmt.Errorf("stat blob: %w", err)
	}
	return f, info, nil
}

// DirExists reports whether dir exists under the root.
func (bs *BlobStorage) DirExists(dir string) bool {
	info, err := os.Stat(filepath.Join(bs.BaseDir, filepath.Base(dir)))
	return err == nil && info.IsDir()
}

// DeleteDir removes dir and everything in it. A missing dir is not an error.
func (bs *BlobStorage) DeleteDir(dir string) error {
	if dir == "" || dir == "." || dir == ".." || filepath.Base(dir) != dir {
		return fmt.Errorf("%w: %q", ErrInvalidPath, dir)
	}
	fullPath := filepath.Join(bs.BaseDir, dir)

	lock := bs.getFileLock(fullPath)
	lock.Lock()
	defer lock.Unlock()

	if err := os.RemoveAll(fullPath); err != nil {
		return fmt.Errorf("delete blob dir: %w", err)
	}
	bs.fileLocks.Range(func(key, _ interface{}) bool {
		if filepath.Dir(key.(string)) == fullPath {
			bs.fileLocks.Delete(key)
		}
		return true
	})
	return nil
}
