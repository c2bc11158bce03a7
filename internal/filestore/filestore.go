package filestore

import "io"

// FileStore stores file blobs addressed by content hash.
type FileStore interface {
	Save(r io.Reader, hash string) error
	Get(hash string) (io.ReadCloser, error)
}
