/*
	Snippets of host configuration that go along with the post-mount script:
	the fstab lines, tmpfiles.d rules, and systemd drop-ins a host needs so
	the bind mounts the installer set up keep coming back on every boot,
	plus the option blocks for the sops and disko integrations.

	Everything here is a pure function of a resolved config.Config, and
	every output is sorted by path so it's stable across runs.
	A disabled config yields empty fragments.
*/
package fragments

import (
	"strings"

	"github.com/polydawn/persistgen"
	"github.com/polydawn/persistgen/config"
	"github.com/polydawn/persistgen/fs"
)

/*
	The extra bind mounts whose mount entry is the generated one.

	If the host declared its own fileSystems entry for one of these paths,
	that entry wins, and it's the host's business to mount it; we don't
	emit a second line for the same mount point.
*/
func generatedBindMounts(cfg *config.Config) []persistgen.BindMountSpec {
	mounts := make(map[fs.AbsolutePath]persistgen.MountEntry, len(cfg.FileSystems))
	for _, m := range cfg.FileSystems {
		mounts[m.Name] = m
	}
	var result []persistgen.BindMountSpec
	for _, bm := range cfg.ExtraBindMounts {
		m, ok := mounts[bm.Path]
		if !ok || !m.IsPersistentBind(cfg.PersistentStoragePath) {
			continue
		}
		if m.Device != bm.Path.Under(cfg.PersistentStoragePath).String() {
			continue
		}
		result = append(result, bm)
	}
	return result
}

// Doubles the '%' that systemd and tmpfiles.d would otherwise read as a specifier.
func escapeSpecifiers(s string) string {
	return strings.ReplaceAll(s, "%", "%%")
}

// Wraps in double quotes when the value has whitespace, as systemd and tmpfiles.d read them.
func quoteIfSpaced(s string) string {
	if !strings.ContainsAny(s, " \t") {
		return s
	}
	return `"` + strings.NewReplacer(`\`, `\\`, `"`, `\"`).Replace(s) + `"`
}
