package chat

import (
	"io"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/cnc-lab/talk.git/internal/backend"
)

// Uploader drives a resumable image upload for the active room and posts
// the resulting URL as an image message when the transfer completes.
type Uploader struct {
	db        backend.RealtimeDB
	store     backend.BlobStore
	selection *Selection
	user      func() backend.User
	errors    *ErrorList

	mu         sync.Mutex
	percentage float64
	onProgress func(pct float64)
}

func NewUploader(db backend.RealtimeDB, store backend.BlobStore, selection *Selection, user func() backend.User, errs *ErrorList) *Uploader {
	return &Uploader{db: db, store: store, selection: selection, user: user, errors: errs}
}

// OnProgress registers a hook fired after every percentage change.
func (u *Uploader) OnProgress(fn func(pct float64)) {
	u.mu.Lock()
	u.onProgress = fn
	u.mu.Unlock()
}

// destination places private uploads under the room id; public uploads
// share a single namespace, so same-named files from different public
// rooms collide. Kept as shipped.
func (u *Uploader) destination(room Room, filename string) string {
	if u.selection.IsPrivate() {
		return "message/private/" + room.ID + "/" + filename
	}
	return "message/public/" + filename
}

// Upload starts the transfer and returns its handle; pause and cancel are
// available on the handle while it is in flight. Terminal failures always
// surface to the transient error list, classified as unauthorized,
// cancelled or unknown.
func (u *Uploader) Upload(filename, contentType string, r io.Reader, size int64) (backend.Upload, error) {
	room, ok := u.selection.Current()
	if !ok {
		u.errors.Push(ErrNoActiveRoom.Error())
		return nil, ErrNoActiveRoom
	}
	dest := u.destination(room, filename)
	log.Info().Str("dest", dest).Int64("size", size).Msg("image upload started")

	handle := u.store.Begin(dest, r, size, contentType, backend.UploadHooks{
		Progress: func(transferred, total int64) {
			if total > 0 {
				u.setPercentage(float64(transferred) / float64(total) * 100)
			}
		},
		Error: func(err error) {
			ue := classifyUpload(err)
			log.Warn().Err(ue).Str("dest", dest).Msg("image upload failed")
			u.errors.Push(ue.Error())
			u.setPercentage(0)
		},
		Success: func(url string) {
			key := u.db.GenerateKey(messagesPath(room.ID))
			if err := u.db.Write(messagesPath(room.ID)+"/"+key, newImageMessage(u.user(), url)); err != nil {
				u.errors.Push(err.Error())
			}
			// Typing presence is deliberately left alone here; only text
			// submission clears it.
			u.setPercentage(100)
		},
	})
	return handle, nil
}

func (u *Uploader) setPercentage(pct float64) {
	u.mu.Lock()
	u.percentage = pct
	fn := u.onProgress
	u.mu.Unlock()
	if fn != nil {
		fn(pct)
	}
}

// Percentage is the last reported transfer percentage.
func (u *Uploader) Percentage() float64 {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.percentage
}

// ProgressVisible reports whether the progress indicator should show: it is
// hidden exactly at 0 and at 100.
func (u *Uploader) ProgressVisible() bool {
	pct := u.Percentage()
	return pct != 0 && pct != 100
}
