package config

import (
	"context"
	"io"
	"os"
	"sort"
	"strings"

	"github.com/deniswernert/go-fstab"
	"github.com/rs/zerolog"
	. "github.com/warpfork/go-errcat"

	"github.com/polydawn/persistgen"
	"github.com/polydawn/persistgen/fs"
)

/*
	Import mount entries from an fstab(5) file, e.g. the host's `/etc/fstab`
	or one produced by a previous run.

	Entries without an absolute mount point (swap, mostly) are skipped.
	Mount options become a set: "k=v" options keep their value, flags stand alone.
*/
func ImportFstab(ctx context.Context, path string) ([]persistgen.MountEntry, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, Errorf(persistgen.ErrConfigUnreadable, "cannot open fstab: %s", err)
	}
	defer f.Close()
	return ParseFstab(ctx, path, f)
}

func ParseFstab(ctx context.Context, source string, r io.Reader) ([]persistgen.MountEntry, error) {
	mounts, err := fstab.Parse(r)
	if err != nil {
		return nil, Errorf(persistgen.ErrConfigUnreadable, "cannot parse fstab %s: %s", source, err)
	}
	var entries []persistgen.MountEntry
	for _, m := range mounts {
		name, err := fs.ParseAbsolutePath(m.File)
		if err != nil || strings.IndexFunc(m.File, isControl) >= 0 {
			zerolog.Ctx(ctx).Debug().
				Str("fstab", source).
				Str("spec", m.Spec).
				Str("file", m.File).
				Msg("skipping fstab entry without an absolute mount point")
			continue
		}
		entries = append(entries, persistgen.MountEntry{
			Name:    name,
			Device:  m.Spec,
			FsType:  m.VfsType,
			Options: mountOptions(m.MntOps),
		})
	}
	zerolog.Ctx(ctx).Debug().
		Str("fstab", source).
		Int("entries", len(entries)).
		Msg("imported host mounts")
	return entries, nil
}

func mountOptions(ops map[string]string) []string {
	opts := make([]string, 0, len(ops))
	for k, v := range ops {
		if v == "" {
			opts = append(opts, k)
		} else {
			opts = append(opts, k+"="+v)
		}
	}
	sort.Strings(opts)
	return opts
}
