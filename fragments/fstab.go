package fragments

import (
	"strings"

	"github.com/polydawn/persistgen/config"
)

const (
	fstabOptBind       = "bind"
	fstabOptInitrd     = "x-initrd.mount"
	fstabFieldSep      = "\t"
	fstabEntryTerminal = "0" + fstabFieldSep + "0"
)

/*
	One fstab(5) line per generated bind mount:

		/persist/var/log	/var/log	none	bind	0	0

	Mounts needed for boot also carry `x-initrd.mount`, so systemd sets them
	up in the initrd before switching root.
*/
func Fstab(cfg *config.Config) string {
	if !cfg.Enable {
		return ""
	}
	var sb strings.Builder
	for _, bm := range generatedBindMounts(cfg) {
		opts := fstabOptBind
		if bm.NeededForBoot {
			opts += "," + fstabOptInitrd
		}
		sb.WriteString(strings.Join([]string{
			fstabEscape(bm.Path.Under(cfg.PersistentStoragePath).String()),
			fstabEscape(bm.Path.String()),
			"none",
			opts,
			fstabEntryTerminal,
		}, fstabFieldSep))
		sb.WriteByte('\n')
	}
	return sb.String()
}

// fstab fields are whitespace separated; the octal escapes are how getmntent reads blanks back.
var fstabEscaper = strings.NewReplacer(
	`\`, `\134`,
	" ", `\040`,
	"\t", `\011`,
)

func fstabEscape(s string) string {
	return fstabEscaper.Replace(s)
}
