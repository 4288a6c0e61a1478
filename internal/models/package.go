// internal/models/package.go
package models

// RandomPackageIndicator is the package name the server reports for games
// running a randomly assembled package.
const RandomPackageIndicator = "@{random}"

// PackageKind classifies a PackageKey.
type PackageKind int

const (
	PackageRandom PackageKind = iota
	PackageLibrary
	PackageCustom
)

func (k PackageKind) String() string {
	switch k {
	case PackageCustom:
		return "custom"
	case PackageLibrary:
		return "library"
	default:
		return "random"
	}
}

// PackageKey identifies the package a new game should run.
//
// A non-empty Hash designates a custom package supplied by the user. An empty
// Hash with a URI designates a server library package; with neither it is a
// random package.
type PackageKey struct {
	Name string
	Hash []byte
	URI  string
}

// Kind classifies the key.
func (k PackageKey) Kind() PackageKind {
	switch {
	case len(k.Hash) > 0:
		return PackageCustom
	case k.URI != "":
		return PackageLibrary
	default:
		return PackageRandom
	}
}

// BlobKey addresses a blob in the content store. Name is part of the key, so
// identical bytes under different names are different blobs.
type BlobKey struct {
	Name string `json:"name"`
	Hash []byte `json:"hash"`
}

// PackageType tells the server where a package comes from.
type PackageType int

const (
	PackageTypeLibraryItem PackageType = iota
	PackageTypeContent
)

// PackageInfo is the resolved package descriptor sent with a run-game request.
type PackageInfo struct {
	Type              PackageType `json:"type"`
	URI               string      `json:"uri"`
	ContentServiceURI string      `json:"contentServiceUri,omitempty"`
	Secret            string      `json:"secret,omitempty"`
}
