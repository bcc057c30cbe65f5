package storage

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
)

// FileStore keeps the raw bytes of uploaded files on disk, one file per
// document id. The returned locator is the absolute path of the stored file.
type FileStore struct {
	root string
}

// NewFileStore creates the root directory if needed.
func NewFileStore(root string) (*FileStore, error) {
	if err := os.MkdirAll(root, 0755); err != nil {
		return nil, fmt.Errorf("failed to create files directory: %w", err)
	}
	return &FileStore{root: root}, nil
}

// Save writes r to disk under the document id, preserving the original
// extension so downstream tools can identify the format.
func (fs *FileStore) Save(docID, originalName string, r io.Reader) (string, error) {
	path := filepath.Join(fs.root, docID+filepath.Ext(originalName))
	f, err := os.Create(path)
	if err != nil {
		return "", fmt.Errorf("failed to create file: %w", err)
	}
	if _, err := io.Copy(f, r); err != nil {
		_ = f.Close()
		_ = os.Remove(path)
		return "", fmt.Errorf("failed to write file: %w", err)
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(path)
		return "", err
	}
	return path, nil
}

// Delete removes a stored file. Missing files are not an error; the record
// may outlive the bytes after a partial cleanup.
func (fs *FileStore) Delete(path string) error {
	err := os.Remove(path)
	if err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

// DiskUsageBytes returns the total size in bytes of the stored files.
func (fs *FileStore) DiskUsageBytes() (int64, error) {
	var total int64
	err := filepath.Walk(fs.root, func(_ string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info != nil && !info.IsDir() {
			total += info.Size()
		}
		return nil
	})
	return total, err
}
