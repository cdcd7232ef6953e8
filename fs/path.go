package fs

import (
	"path"
	"strings"

	. "github.com/warpfork/go-errcat"
)

// Meta: yep, these *are not* interchangeable.
// Everything persistgen declares is an AbsolutePath: a path on the booted system.
// RelPath shows up only as the glue for re-rooting one absolute path under another
//  (e.g. "/var/lib/x" under "/persist", under "/mnt").

type RelPath struct {
	path      string
	lastSplit int
}

func MustRelPath(p string) RelPath {
	p = path.Clean(p)
	if p[0] == '/' {
		panic("nope")
	}
	if p == "." { // We can't stop people from using the zero value, so, use it.
		return RelPath{}
	}
	return RelPath{p, strings.LastIndexByte(p, '/')}
}
func (p RelPath) String() string {
	if p.path == "" {
		return "."
	} else if p.path == ".." || strings.HasPrefix(p.path, "../") {
		return p.path
	} else {
		return "./" + p.path
	}
}
func (p RelPath) Join(p2 RelPath) RelPath {
	switch {
	case p2.path == "":
		return p
	case p.path == "":
		return p2
	default:
		return RelPath{p.path + "/" + p2.path, len(p.path) + p2.lastSplit + 1}
	}
}

type AbsolutePath struct {
	path      string
	lastSplit int
}

func MustAbsolutePath(p string) AbsolutePath {
	pth, err := ParseAbsolutePath(p)
	if err != nil {
		panic(err)
	}
	return pth
}

/*
Parse and clean an absolute path.

Empty strings raise ErrEmptyPath; anything not starting with a slash
raises ErrNotAbsolute.  Dot-dot segments are cleaned away, and may not
climb above the root (same as the kernel treats them).
*/
func ParseAbsolutePath(p string) (AbsolutePath, error) {
	if p == "" {
		return AbsolutePath{}, Errorf(ErrEmptyPath, "path must not be empty")
	}
	if p[0] != '/' {
		return AbsolutePath{}, Errorf(ErrNotAbsolute, "path %q must be absolute", p)
	}
	p = path.Clean(p)
	if p == "/" { // We can't stop people from using the zero value, so, use it.
		return AbsolutePath{}, nil
	}
	return AbsolutePath{p, strings.LastIndexByte(p, '/')}, nil
}

func (p AbsolutePath) String() string {
	if p.path == "" {
		return "/"
	}
	return p.path
}
func (p AbsolutePath) Dir() AbsolutePath {
	if p.path == "" {
		return p
	} else if p.lastSplit == 0 {
		return AbsolutePath{}
	} else {
		p2 := p.path[0:p.lastSplit]
		return AbsolutePath{p2, strings.LastIndexByte(p2, '/')}
	}
}
func (p AbsolutePath) Join(p2 RelPath) AbsolutePath {
	switch {
	case p2.path == "":
		return p
	default:
		return AbsolutePath{p.path + "/" + p2.path, len(p.path) + p2.lastSplit + 1}
	}
}

// Drop the leading slash.  The root becomes the zero RelPath.
func (p AbsolutePath) CoerceRelative() RelPath {
	if p.path == "" {
		return RelPath{}
	}
	return RelPath{p.path[1:], p.lastSplit - 1}
}

/*
Returns the same path as seen from underneath another root.

`MustAbsolutePath("/etc").Under(MustAbsolutePath("/persist"))` is "/persist/etc".
Chains nicely: `p.Under(persist).Under(mnt)` is "/mnt/persist/etc".
*/
func (p AbsolutePath) Under(root AbsolutePath) AbsolutePath {
	return root.Join(p.CoerceRelative())
}

/*
Whether this path is `root` itself or somewhere beneath it.

This is by whole path segments: "/persistent" is not within "/persist".
Everything is within the root path.
*/
func (p AbsolutePath) Within(root AbsolutePath) bool {
	if root.path == "" {
		return true
	}
	return p.path == root.path || strings.HasPrefix(p.path, root.path+"/")
}

func (p AbsolutePath) IsRoot() bool {
	return p.path == ""
}
