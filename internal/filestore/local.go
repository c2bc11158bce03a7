package filestore

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/h2non/filetype"

	"palaver/internal/storage"
)

// LocalFileStore implements FileStore on the local filesystem.
type LocalFileStore struct {
	root string
	meta metaStore
}

type metaStore interface {
	UpsertFileMetadata(meta storage.FileMetadata) error
}

func NewLocalFileStore(root string, meta metaStore) (*LocalFileStore, error) {
	if err := os.MkdirAll(root, 0755); err != nil {
		return nil, fmt.Errorf("failed to create root directory: %w", err)
	}
	return &LocalFileStore{root: root, meta: meta}, nil
}

func (s *LocalFileStore) getPath(hash string) string {
	if len(hash) < 2 {
		return filepath.Join(s.root, hash)
	}
	return filepath.Join(s.root, hash[:2], hash)
}

// Register saves a blob and records its metadata: mime type is sniffed from
// the content, not trusted from the client. Returns the new file ID.
func (s *LocalFileStore) Register(r io.Reader, displayName, ownerID string) (string, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return "", fmt.Errorf("failed to read upload: %w", err)
	}

	kind, _ := filetype.Match(data)
	mime := kind.MIME.Value
	if mime == "" {
		mime = "application/octet-stream"
	}

	sum := sha256.Sum256(data)
	hash := hex.EncodeToString(sum[:])
	if err := s.Save(bytes.NewReader(data), hash); err != nil {
		return "", err
	}

	id := uuid.NewString()
	err = s.meta.UpsertFileMetadata(storage.FileMetadata{
		ID:          id,
		Hash:        hash,
		DisplayName: displayName,
		MimeType:    mime,
		Size:        int64(len(data)),
		CreatedAt:   time.Now().UnixMilli(),
		OwnerID:     ownerID,
	})
	if err != nil {
		return "", err
	}
	return id, nil
}

func (s *LocalFileStore) Save(r io.Reader, hash string) error {
	path := s.getPath(hash)

	// Idempotency check
	if _, err := os.Stat(path); err == nil {
		return nil
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create directory %s: %w", dir, err)
	}

	// Write to temporary file first
	tmp, err := os.CreateTemp(dir, "upload-*")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	defer func() {
		_ = tmp.Close()
		_ = os.Remove(tmp.Name()) // Clean up if rename fails
	}()

	if _, err := io.Copy(tmp, r); err != nil {
		return fmt.Errorf("failed to write data: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to close temp file: %w", err)
	}

	// Atomically rename
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("failed to rename file: %w", err)
	}

	return nil
}

func (s *LocalFileStore) Get(hash string) (io.ReadCloser, error) {
	path := s.getPath(hash)
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open file %s: %w", hash, err)
	}
	return f, nil
}
