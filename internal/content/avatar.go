// internal/content/avatar.go
package content

import (
	"context"
	"net/url"
	"os"
	"path/filepath"

	"github.com/jason-s-yu/sionline/internal/errs"
	"github.com/jason-s-yu/sionline/internal/models"
)

// LocalAvatarPath returns the local file behind an account picture when that
// file may be uploaded: the picture is a file URL or an absolute path, the
// file exists and it is no larger than limit. Any other picture yields false.
func LocalAvatarPath(picture string, limit int64) (string, bool) {
	if picture == "" {
		return "", false
	}

	path := picture
	if u, err := url.Parse(picture); err == nil && u.Scheme != "" && len(u.Scheme) > 1 {
		if u.Scheme != "file" {
			return "", false
		}
		path = u.Path
	}
	if !filepath.IsAbs(path) {
		return "", false
	}

	info, err := os.Stat(path)
	if err != nil || !info.Mode().IsRegular() {
		return "", false
	}
	if info.Size() > limit {
		return "", false
	}
	return path, true
}

// UploadAvatar makes a local account picture available on the content
// service and returns its absolute URI and blob key. Pictures that are not
// eligible local files yield an empty URI and no error without contacting
// the service.
func UploadAvatar(ctx context.Context, e *Ensurer, picture string) (string, *models.BlobKey, error) {
	path, ok := LocalAvatarPath(picture, AvatarSizeLimit)
	if !ok {
		return "", nil, nil
	}
	if e == nil || e.Store() == nil || e.Store().ServiceURI() == "" {
		return "", nil, &errs.InvariantError{What: "no content service for avatar upload"}
	}

	blob, err := FileBlob(path)
	if err != nil {
		return "", nil, err
	}
	uri, err := e.Ensure(ctx, Avatars, blob, AvatarSizeLimit, nil)
	if err != nil {
		return "", nil, err
	}
	abs, err := ResolveURI(e.Store().ServiceURI(), uri)
	if err != nil {
		return "", nil, err
	}
	key := blob.Key
	return abs, &key, nil
}
