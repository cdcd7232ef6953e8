/*
	Computes which directories have to exist before an installer writes
	anything to a system with an ephemeral root.

	Two kinds of declaration need a directory:
	mounts that bind a directory in from the persistent storage path
	(both ends of the bind must exist before mounting),
	and files persisted by symlink (the link has to live somewhere).

	Everything here is a pure function of its arguments.
	Results are deduplicated and sorted, so the same declarations always
	produce the same bytes further down the line.
*/
package derive

import (
	"sort"

	"github.com/polydawn/persistgen"
	"github.com/polydawn/persistgen/fs"
)

/*
	Returns the sorted, deduplicated set of directories that must exist
	(relative to both the persistent and the ephemeral root) before installing.

	Bind-mount directories are collected first, then the parents of
	symlinked files; the sort afterwards makes that order unobservable.
	Only the preserve entry keyed by `persistentStoragePath` is consulted.

	Disabled means nothing is required: the result is empty.
*/
func Directories(
	mounts []persistgen.MountEntry,
	preserve map[fs.AbsolutePath]persistgen.PreserveAtConfig,
	persistentStoragePath fs.AbsolutePath,
	enabled bool,
) []fs.AbsolutePath {
	if !enabled {
		return nil
	}
	var dirs []fs.AbsolutePath
	dirs = append(dirs, bindMountNames(mounts, persistentStoragePath)...)
	dirs = append(dirs, symlinkParents(preserve[persistentStoragePath])...)
	return uniqueSorted(dirs)
}

/*
	Returns the sorted, deduplicated mount points of every mount which
	binds a directory in from the persistent storage path.

	These are the binds the installer has to perform itself, while
	installing; they're a subset of `Directories`.
*/
func BindMountDirs(
	mounts []persistgen.MountEntry,
	persistentStoragePath fs.AbsolutePath,
	enabled bool,
) []fs.AbsolutePath {
	if !enabled {
		return nil
	}
	return uniqueSorted(bindMountNames(mounts, persistentStoragePath))
}

func bindMountNames(mounts []persistgen.MountEntry, persistentStoragePath fs.AbsolutePath) (names []fs.AbsolutePath) {
	for _, m := range mounts {
		if m.IsPersistentBind(persistentStoragePath) {
			names = append(names, m.Name)
		}
	}
	return
}

// A missing preserve entry is the zero value, which yields nothing.
func symlinkParents(cfg persistgen.PreserveAtConfig) (parents []fs.AbsolutePath) {
	for _, f := range cfg.Files {
		if f.How == persistgen.Method_Symlink {
			parents = append(parents, f.File.Dir())
		}
	}
	return
}

func uniqueSorted(ps []fs.AbsolutePath) []fs.AbsolutePath {
	seen := make(map[fs.AbsolutePath]struct{}, len(ps))
	result := make([]fs.AbsolutePath, 0, len(ps))
	for _, p := range ps {
		if _, ok := seen[p]; ok {
			continue
		}
		seen[p] = struct{}{}
		result = append(result, p)
	}
	sort.Sort(fs.AbsolutePaths(result))
	return result
}
