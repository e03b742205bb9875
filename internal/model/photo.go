package model

import "strings"

// legacyNoPhoto is the sentinel older clients stored instead of a path.
const legacyNoPhoto = "none"

// Photo is either no photo or a path to a photo on the local filesystem. The
// zero value is [NoPhoto].
type Photo struct {
	path string
}

// NoPhoto means the report has no photo attached.
var NoPhoto = Photo{}

// LocalPhoto returns a Photo pointing at path. An empty path is NoPhoto.
func LocalPhoto(path string) Photo {
	return ParsePhoto(path)
}

// ParsePhoto decodes a stored photo value. Empty strings and the legacy "none"
// sentinel both decode to NoPhoto.
func ParsePhoto(s string) Photo {
	s = strings.TrimSpace(s)
	if s == "" || strings.EqualFold(s, legacyNoPhoto) {
		return NoPhoto
	}
	return Photo{path: s}
}

// Path returns the local path and whether a photo is set.
func (p Photo) Path() (string, bool) {
	return p.path, p.path != ""
}

// IsSet reports whether a photo is attached.
func (p Photo) IsSet() bool {
	return p.path != ""
}

func (p Photo) String() string {
	if p.path == "" {
		return legacyNoPhoto
	}
	return p.path
}
