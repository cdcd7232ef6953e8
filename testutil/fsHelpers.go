package testutil

import (
	"os"
	"path/filepath"

	"github.com/smartystreets/goconvey/convey"

	"github.com/polydawn/persistgen/fs"
)

/*
	Creates a temp dir, hands it to the action, and removes it all afterwards.

	The path is fully resolved (no symlinks, e.g. on hosts where /tmp is a link),
	so it's safe to use as an install mount point in generated scripts.
*/
func WithTmpdir(fn func(tmpDir fs.AbsolutePath)) {
	tmpBase, err := os.MkdirTemp("", "persistgen-test-")
	if err != nil {
		panic(err)
	}
	defer os.RemoveAll(tmpBase)
	tmpBase, err = filepath.EvalSymlinks(tmpBase)
	if err != nil {
		panic(err)
	}
	fn(fs.MustAbsolutePath(tmpBase))
}

// Asserts the path exists and is a directory.
func ShouldBeDir(path fs.AbsolutePath) {
	fi, err := os.Stat(path.String())
	convey.So(err, convey.ShouldBeNil)
	convey.So(fi.IsDir(), convey.ShouldBeTrue)
}

// Writes a file, creating parent dirs as needed.  Panics on failure; it's for fixtures.
func WriteFixture(path fs.AbsolutePath, body string) {
	if err := os.MkdirAll(path.Dir().String(), 0755); err != nil {
		panic(err)
	}
	if err := os.WriteFile(path.String(), []byte(body), 0644); err != nil {
		panic(err)
	}
}
