package backend

import (
	"errors"
	"io"
)

var (
	ErrUnauthorized = errors.New("storage: unauthorized")
	ErrCancelled    = errors.New("storage: upload cancelled")
)

// UploadHooks receive the terminal and in-flight events of a resumable
// upload. Progress may fire many times; exactly one of Error or Success
// fires last.
type UploadHooks struct {
	Progress func(transferred, total int64)
	Error    func(err error)
	Success  func(url string)
}

// Upload is a handle on an in-flight resumable upload.
type Upload interface {
	Pause()
	Resume()
	Cancel()
	Done() <-chan struct{}
}

// BlobStore is the blob-storage collaborator: resumable uploads with
// progress reporting and a terminal download URL.
type BlobStore interface {
	Begin(path string, r io.Reader, size int64, contentType string, hooks UploadHooks) Upload
	DownloadURL(path string) (string, error)
}
