// Package namespace maps a flat bucket/key object space onto a synthetic
// directory tree: it parses virtual paths, classifies them as files,
// directories or missing entries, and reconstructs one directory level
// from a prefix listing.
package namespace

import (
	"strings"

	"github.com/bucketfs/bucketfs/internal/objstore"
)

// Separator is the virtual path and key segment separator.
const Separator = "/"

// VirtualPath is a filesystem path split into the bucket and key it addresses.
type VirtualPath struct {
	Bucket string // Empty for the mount root
	Key    string // Empty for a bucket root
}

// Parse splits a virtual path of the form /{bucket}[/{key-segment}]*.
// One leading separator is dropped; the first segment is the bucket and
// the rest, joined by separators, is the key.
func Parse(p string) VirtualPath {
	p = strings.TrimPrefix(p, Separator)
	bucket, key, _ := strings.Cut(p, Separator)
	return VirtualPath{Bucket: bucket, Key: key}
}

// IsRoot reports whether p denotes the mount root.
func (p VirtualPath) IsRoot() bool {
	return p.Bucket == ""
}

// ID returns the object identity used to address cached data.
func (p VirtualPath) ID() objstore.ObjectID {
	return objstore.ObjectID{Bucket: p.Bucket, Key: p.Key}
}

// Join returns the path of the child entry name inside p.
func (p VirtualPath) Join(name string) VirtualPath {
	switch {
	case p.Bucket == "":
		return VirtualPath{Bucket: name}
	case p.Key == "":
		return VirtualPath{Bucket: p.Bucket, Key: name}
	default:
		return VirtualPath{Bucket: p.Bucket, Key: strings.TrimSuffix(p.Key, Separator) + Separator + name}
	}
}

// String formats p back into a rooted virtual path.
func (p VirtualPath) String() string {
	switch {
	case p.Bucket == "":
		return Separator
	case p.Key == "":
		return Separator + p.Bucket
	default:
		return Separator + p.Bucket + Separator + p.Key
	}
}

// lastSegment returns the text after the final separator of s.
func lastSegment(s string) string {
	if i := strings.LastIndex(s, Separator); i >= 0 {
		return s[i+1:]
	}
	return s
}

// firstComponent returns the text before the first separator of s.
func firstComponent(s string) string {
	head, _, _ := strings.Cut(s, Separator)
	return head
}
