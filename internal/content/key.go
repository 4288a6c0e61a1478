// internal/content/key.go
//
// Package content talks to the content-addressed blob store that holds game
// packages and participant avatars.
package content

import (
	"crypto/sha1"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/jason-s-yu/sionline/internal/models"
)

// Kind selects the blob namespace on the content service.
type Kind string

const (
	Packages Kind = "packages"
	Avatars  Kind = "avatars"
)

// AvatarSizeLimit is the largest avatar the client will upload.
const AvatarSizeLimit int64 = 2 * 1024 * 1024

// Hash returns the SHA-1 digest of everything r yields.
func Hash(r io.Reader) ([]byte, error) {
	h := sha1.New()
	if _, err := io.Copy(h, r); err != nil {
		return nil, fmt.Errorf("hash content: %w", err)
	}
	return h.Sum(nil), nil
}

// KeyForFile builds the blob key of a local file: its base name and the hash
// of its bytes.
func KeyForFile(path string) (models.BlobKey, error) {
	f, err := os.Open(path)
	if err != nil {
		return models.BlobKey{}, fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()

	sum, err := Hash(f)
	if err != nil {
		return models.BlobKey{}, err
	}
	return models.BlobKey{Name: filepath.Base(path), Hash: sum}, nil
}

// EncodeHash is the form of a hash used in content service URLs.
func EncodeHash(hash []byte) string {
	return base64.RawURLEncoding.EncodeToString(hash)
}

// memoKey identifies a blob across namespaces.
func memoKey(kind Kind, key models.BlobKey) string {
	return string(kind) + "/" + key.Name + "/" + hex.EncodeToString(key.Hash)
}
