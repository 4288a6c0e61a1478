// internal/mockserver/content.go
package mockserver

import (
	"bytes"
	"errors"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"

	"github.com/go-chi/chi/v5"
	"github.com/golang-jwt/jwt/v5"
	"github.com/sirupsen/logrus"

	"github.com/jason-s-yu/sionline/internal/content"
	"github.com/jason-s-yu/sionline/internal/models"
)

type blob struct {
	uri  string
	data []byte
}

// blobStore is the content service storage, keyed by kind, name and hash.
type blobStore struct {
	mu    sync.Mutex
	blobs map[string]blob
	puts  int
}

func newBlobStore() *blobStore {
	return &blobStore{blobs: make(map[string]blob)}
}

func blobKey(kind, name, hash string) string {
	return kind + "/" + hash + "/" + name
}

func (b *blobStore) get(key string) (blob, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	v, ok := b.blobs[key]
	return v, ok
}

func (b *blobStore) put(key string, v blob) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.blobs[key] = v
	b.puts++
}

func (b *blobStore) uploads() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.puts
}

// requireContentToken validates the HS256 bearer token when a content secret
// is configured.
func (s *Server) requireContentToken(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.opts.ContentSecret == "" {
			next.ServeHTTP(w, r)
			return
		}
		raw, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
		if !ok {
			http.Error(w, "missing bearer token", http.StatusUnauthorized)
			return
		}
		_, err := jwt.Parse(raw, func(*jwt.Token) (any, error) {
			return []byte(s.opts.ContentSecret), nil
		}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
		if err != nil {
			http.Error(w, "invalid token", http.StatusForbidden)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) limitFor(kind content.Kind) (int64, bool) {
	switch kind {
	case content.Packages:
		return models.HostInfo{MaxPackageSizeMb: s.opts.MaxPackageSizeMb}.MaxPackageBytes(), true
	case content.Avatars:
		return content.AvatarSizeLimit, true
	default:
		return 0, false
	}
}

func (s *Server) handleResolveContent(w http.ResponseWriter, r *http.Request) {
	kind, name, hash := chi.URLParam(r, "kind"), chi.URLParam(r, "name"), r.URL.Query().Get("hash")
	if _, ok := s.limitFor(content.Kind(kind)); !ok || hash == "" {
		http.Error(w, "unknown content", http.StatusBadRequest)
		return
	}
	b, ok := s.blobs.get(blobKey(kind, name, hash))
	if !ok {
		http.NotFound(w, r)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"uri": b.uri})
}

func (s *Server) handleUploadContent(w http.ResponseWriter, r *http.Request) {
	kind, name, hash := chi.URLParam(r, "kind"), chi.URLParam(r, "name"), r.URL.Query().Get("hash")
	limit, ok := s.limitFor(content.Kind(kind))
	if !ok || hash == "" {
		http.Error(w, "unknown content", http.StatusBadRequest)
		return
	}
	data, err := io.ReadAll(http.MaxBytesReader(w, r.Body, limit))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			http.Error(w, "content too large", http.StatusRequestEntityTooLarge)
			return
		}
		http.Error(w, "read body", http.StatusBadRequest)
		return
	}
	sum, err := content.Hash(bytes.NewReader(data))
	if err != nil || content.EncodeHash(sum) != hash {
		http.Error(w, "hash mismatch", http.StatusBadRequest)
		return
	}

	uri := "blobs/" + kind + "/" + hash + "/" + url.PathEscape(name)
	s.blobs.put(blobKey(kind, name, hash), blob{uri: uri, data: data})
	s.logger.WithFields(logrus.Fields{"kind": kind, "name": name, "size": len(data)}).Info("content stored")
	writeJSON(w, http.StatusCreated, map[string]string{"uri": uri})
}

func (s *Server) handleBlob(w http.ResponseWriter, r *http.Request) {
	b, ok := s.blobs.get(blobKey(chi.URLParam(r, "kind"), chi.URLParam(r, "name"), chi.URLParam(r, "hash")))
	if !ok {
		http.NotFound(w, r)
		return
	}
	w.Header().Set("Content-Type", "application/octet-stream")
	_, _ = w.Write(b.data)
}
