package fragments

import (
	"fmt"
	"strings"

	"github.com/polydawn/persistgen/config"
	"github.com/polydawn/persistgen/fs"
)

/*
	tmpfiles.d(5) rules making sure the persistent side of every extra bind
	mount exists, and that the persisted machine id is at least an empty
	file, before anything tries to mount them.

		d /persist/var/log 0755 root root -
		f /persist/etc/machine-id 0444 root root -
*/
func Tmpfiles(cfg *config.Config) string {
	if !cfg.Enable {
		return ""
	}
	var sb strings.Builder
	for _, bm := range cfg.ExtraBindMounts {
		tmpfilesRule(&sb, "d", bm.Path.Under(cfg.PersistentStoragePath), "0755")
	}
	machineId := fs.MustAbsolutePath(config.MachineIdPath)
	tmpfilesRule(&sb, "f", machineId.Under(cfg.PersistentStoragePath), "0444")
	return sb.String()
}

func tmpfilesRule(sb *strings.Builder, typ string, path fs.AbsolutePath, mode string) {
	fmt.Fprintf(sb, "%s %s %s root root -\n", typ, quoteIfSpaced(escapeSpecifiers(path.String())), mode)
}
