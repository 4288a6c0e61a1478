// internal/content/ensure.go
package content

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"sync"

	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/singleflight"

	"github.com/jason-s-yu/sionline/internal/errs"
	"github.com/jason-s-yu/sionline/internal/models"
)

// Memo remembers blob URIs that the service already reported, so a later run
// can skip the probe.
type Memo interface {
	Lookup(ctx context.Context, key string) (uri string, found bool, err error)
	Remember(ctx context.Context, key, uri string) error
}

// Blob is content that can be read on demand.
type Blob struct {
	Key  models.BlobKey
	Size int64
	Open func() (io.ReadCloser, error)
}

// FileBlob describes a local file as a Blob keyed by its base name and hash.
func FileBlob(path string) (Blob, error) {
	key, err := KeyForFile(path)
	if err != nil {
		return Blob{}, err
	}
	info, err := os.Stat(path)
	if err != nil {
		return Blob{}, fmt.Errorf("stat %s: %w", path, err)
	}
	return Blob{
		Key:  key,
		Size: info.Size(),
		Open: func() (io.ReadCloser, error) { return os.Open(path) },
	}, nil
}

// BytesBlob describes in-memory content as a Blob.
func BytesBlob(name string, data []byte) Blob {
	sum, _ := Hash(bytes.NewReader(data))
	return Blob{
		Key:  models.BlobKey{Name: name, Hash: sum},
		Size: int64(len(data)),
		Open: func() (io.ReadCloser, error) { return io.NopCloser(bytes.NewReader(data)), nil },
	}
}

// Ensurer makes sure a blob exists in the store, probing before uploading.
// Concurrent calls for the same blob share one probe and one upload. The
// shared work is cancelled only once every caller waiting on it has gone.
type Ensurer struct {
	store  Store
	memo   Memo
	group  singleflight.Group
	logger log.FieldLogger

	mu      sync.Mutex
	flights map[string]*flight
}

// flight is the shared context and progress fan-out of one singleflight call.
type flight struct {
	ctx     context.Context
	cancel  context.CancelFunc
	waiters map[int]func(int)
	next    int
}

// NewEnsurer wraps store. memo may be nil.
func NewEnsurer(store Store, memo Memo, logger log.FieldLogger) *Ensurer {
	if logger == nil {
		logger = log.StandardLogger()
	}
	return &Ensurer{
		store:   store,
		memo:    memo,
		logger:  logger.WithField("component", "content"),
		flights: make(map[string]*flight),
	}
}

// Store returns the wrapped store.
func (e *Ensurer) Store() Store { return e.store }

// Ensure returns the URI of blob as reported by the store, uploading the
// bytes when the store does not have them yet. Blobs over limit are refused
// before they are opened; limit <= 0 disables the check.
func (e *Ensurer) Ensure(ctx context.Context, kind Kind, blob Blob, limit int64, progress func(int)) (string, error) {
	mk := e.store.ServiceURI() + memoKey(kind, blob.Key)

	if e.memo != nil {
		uri, found, err := e.memo.Lookup(ctx, mk)
		switch {
		case err != nil:
			e.logger.WithError(err).Warn("content memo lookup failed")
		case found:
			return uri, nil
		}
	}

	f, id := e.join(ctx, mk, progress)
	defer e.leave(mk, f, id)

	ch := e.group.DoChan(mk, func() (any, error) {
		defer e.land(mk, f)
		return e.ensure(f.ctx, kind, blob, limit, func(p int) { e.report(f, p) }, mk)
	})
	select {
	case <-ctx.Done():
		return "", errs.FromContext(ctx.Err())
	case res := <-ch:
		if res.Err != nil {
			return "", res.Err
		}
		return res.Val.(string), nil
	}
}

// join registers a waiter on the flight for mk, starting a new flight when
// none is live.
func (e *Ensurer) join(ctx context.Context, mk string, progress func(int)) (*flight, int) {
	e.mu.Lock()
	defer e.mu.Unlock()
	f := e.flights[mk]
	if f == nil || len(f.waiters) == 0 {
		fctx, cancel := context.WithCancel(context.WithoutCancel(ctx))
		f = &flight{ctx: fctx, cancel: cancel, waiters: make(map[int]func(int))}
		e.flights[mk] = f
	}
	id := f.next
	f.next++
	f.waiters[id] = progress
	return f, id
}

// leave drops a waiter. The last one out cancels the shared work and makes
// the next caller start over.
func (e *Ensurer) leave(mk string, f *flight, id int) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(f.waiters, id)
	if len(f.waiters) > 0 {
		return
	}
	f.cancel()
	if e.flights[mk] == f {
		delete(e.flights, mk)
		e.group.Forget(mk)
	}
}

// land retires f once its shared call has returned.
func (e *Ensurer) land(mk string, f *flight) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.flights[mk] == f {
		delete(e.flights, mk)
	}
}

func (e *Ensurer) report(f *flight, p int) {
	e.mu.Lock()
	fns := make([]func(int), 0, len(f.waiters))
	for _, fn := range f.waiters {
		if fn != nil {
			fns = append(fns, fn)
		}
	}
	e.mu.Unlock()
	for _, fn := range fns {
		fn(p)
	}
}

func (e *Ensurer) ensure(ctx context.Context, kind Kind, blob Blob, limit int64, progress func(int), mk string) (string, error) {
	logger := e.logger.WithFields(log.Fields{"kind": kind, "name": blob.Key.Name})

	uri, found, err := e.store.TryResolve(ctx, kind, blob.Key)
	if err != nil {
		return "", err
	}
	if !found {
		if limit > 0 && blob.Size > limit {
			return "", &errs.ContentTooLargeError{Size: blob.Size, Limit: limit}
		}
		if err := ctx.Err(); err != nil {
			return "", errs.FromContext(err)
		}
		rc, err := blob.Open()
		if err != nil {
			return "", &errs.PackageResolutionError{Reason: "cannot read " + blob.Key.Name, Err: err}
		}
		defer rc.Close()

		uri, err = e.store.Upload(ctx, kind, blob.Key, rc, blob.Size, limit, progress)
		if err != nil {
			return "", err
		}
	} else {
		logger.Debug("content already stored, upload skipped")
	}

	if e.memo != nil {
		if err := e.memo.Remember(ctx, mk, uri); err != nil {
			logger.WithError(err).Warn("content memo store failed")
		}
	}
	return uri, nil
}
