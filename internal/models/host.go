// internal/models/host.go
package models

// DefaultMaxPackageSizeMb applies when the server reports a zero limit
// (older servers do not report one).
const DefaultMaxPackageSizeMb = 100

// ContentInfo is one content service endpoint advertised by the game server.
type ContentInfo struct {
	ServiceURI string `json:"serviceUri"`
}

// HostInfo is the game server metadata fetched on lobby entry.
type HostInfo struct {
	Name                  string        `json:"name"`
	License               string        `json:"license"`
	MaxPackageSizeMb      int           `json:"maxPackageSizeMb"`
	ContentInfos          []ContentInfo `json:"contentInfos"`
	ContentPublicBaseURLs []string      `json:"contentPublicBaseUrls"`
	Host                  string        `json:"host"`
	Port                  int           `json:"port"`
}

// MaxPackageBytes returns the package upload limit in bytes, applying the
// default when the server did not report one.
func (h HostInfo) MaxPackageBytes() int64 {
	mb := h.MaxPackageSizeMb
	if mb <= 0 {
		mb = DefaultMaxPackageSizeMb
	}
	return int64(mb) * 1024 * 1024
}
