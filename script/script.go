/*
	Renders the directory set into the shell script an installer runs right
	after mounting the persistent partition.

	The output is plain POSIX shell using only `mkdir -p`, `mount --bind`, and `echo`.
	Every command is safe to run again: re-running an installer after a
	partial failure must not trip over directories that already exist.
	Lines are emitted strictly in dependency order (both ends of every bind
	exist before any bind is attempted); the consumer runs them top to bottom.
*/
package script

import (
	"strings"
	"unicode"

	"github.com/alessio/shellescape"

	"github.com/polydawn/persistgen/fs"
)

const Tag = "persistgen"

/*
	Synthesize the post-mount script.

	`derivedPaths` get a directory on the persistent side (under
	installMountPoint+persistentStoragePath) and a stub on the ephemeral side
	(under installMountPoint); `bindMountDirs` are then bind-mounted from the
	former onto the latter.

	Disabled yields the empty string: the hook has nothing to run.
*/
func Synthesize(
	derivedPaths []fs.AbsolutePath,
	bindMountDirs []fs.AbsolutePath,
	installMountPoint fs.AbsolutePath,
	persistentStoragePath fs.AbsolutePath,
	enabled bool,
) string {
	if !enabled {
		return ""
	}
	persistRoot := persistentStoragePath.Under(installMountPoint)

	var s builder
	s.comment(Tag + ": prepare persistent storage for installation")
	s.comment("persistent storage path: " + persistentStoragePath.String())
	s.comment("install mount point: " + installMountPoint.String())
	for _, p := range derivedPaths {
		s.command("mkdir", "-p", p.Under(persistRoot).String())
	}
	for _, p := range derivedPaths {
		s.command("mkdir", "-p", p.Under(installMountPoint).String())
	}
	for _, p := range bindMountDirs {
		s.command("mount", "--bind", p.Under(persistRoot).String(), p.Under(installMountPoint).String())
	}
	s.command("echo", printable(Tag+": persistent storage at "+persistentStoragePath.String()+" prepared"))
	return s.String()
}

type builder struct {
	lines []string
}

func (b *builder) comment(msg string) {
	b.lines = append(b.lines, "# "+printable(msg))
}

// Arguments are quoted only when they contain anything outside the shell-safe set.
func (b *builder) command(args ...string) {
	quoted := make([]string, len(args))
	for i, arg := range args {
		quoted[i] = shellescape.Quote(arg)
	}
	b.lines = append(b.lines, strings.Join(quoted, " "))
}

// Drops control characters, so messages can't escape their line.
func printable(msg string) string {
	return strings.Map(func(r rune) rune {
		if unicode.IsControl(r) {
			return -1
		}
		return r
	}, msg)
}

func (b builder) String() string {
	return strings.Join(b.lines, "\n") + "\n"
}
