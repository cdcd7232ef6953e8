package config

import (
	"context"
	"fmt"
	"sort"

	"github.com/rs/zerolog"
	. "github.com/warpfork/go-errcat"

	"github.com/polydawn/persistgen"
	"github.com/polydawn/persistgen/fs"
)

/*
	Values given directly on the command line.  Each one, if set,
	beats whatever the declarations say.
*/
type Overrides struct {
	Enable                *bool
	PersistentStoragePath *string
	InstallMountPoint     *string
}

const DefaultSopsAgeKeyFile = "/var/lib/sops-nix/key.txt"

/*
	Resolve a (merged) declaration into a Config.

	Precedence for scalars is: overrides, then the declaration, then the
	environment (see `GetPersistPath`), then built-in defaults.

	`hostMounts` are mounts already known to the host (typically imported from
	an fstab); declared fileSystems with the same mount point replace them.

	When enabled, the generated entries are filled in:
	every extra bind mount becomes a mount entry (unless one was declared
	for that mount point already); the machine id is added to the files
	preserved on persistent storage; and, with sops present, the directory
	holding the age key becomes a boot-critical extra bind mount.

	Map keys are visited in sorted order, so the same declaration always
	resolves the same way.  Two fileSystems keys naming the same mount
	point (say "/srv" and "/srv/"), or one file preserved two different
	ways, are errors.

	Every problem is reported, together, as one ErrConfigInvalid error.
*/
func Resolve(ctx context.Context, decl *Declaration, overrides Overrides, hostMounts []persistgen.MountEntry) (*Config, error) {
	if decl == nil {
		decl = &Declaration{}
	}
	v := &validator{ctx: ctx}
	cfg := &Config{
		Persistence: map[fs.AbsolutePath]persistgen.PreserveAtConfig{},
	}

	// Scalars.
	cfg.Enable = pick(overrides.Enable, decl.Enable, false)
	v.ok("enable", cfg.Enable)
	persistPath, persistOk := v.absolutePath("persistentStoragePath", pick(overrides.PersistentStoragePath, decl.PersistentStoragePath, GetPersistPath()))
	if persistOk && persistPath.IsRoot() {
		v.fail("persistentStoragePath", persistPath.String(), fmt.Errorf("must not be the root directory"))
	}
	cfg.PersistentStoragePath = persistPath
	cfg.InstallMountPoint, _ = v.absolutePath("installMountPoint", pick(overrides.InstallMountPoint, decl.InstallMountPoint, GetInstallMountPoint()))
	cfg.MachineIdMode, _ = v.method("machineIdMode", pick(nil, decl.MachineIdMode, string(DefaultMachineIdMode)))

	// Extra bind mounts, including the one sops needs.
	extraBindMounts := map[fs.AbsolutePath]bool{}
	for _, pth := range sortedKeys(decl.ExtraBindMounts) {
		bm := decl.ExtraBindMounts[pth]
		if p, ok := v.absolutePath("extraBindMounts."+pth, pth); ok {
			extraBindMounts[p] = extraBindMounts[p] || bm.NeededForBoot
		}
	}
	if decl.Sops != nil {
		keyFile, ok := v.absolutePath("sops.ageKeyFile", pick(nil, decl.Sops.AgeKeyFile, DefaultSopsAgeKeyFile))
		if ok {
			cfg.Sops = &persistgen.SopsConfig{AgeKeyFile: keyFile}
			if cfg.Enable {
				extraBindMounts[keyFile.Dir()] = true
			}
		}
	}
	for p, neededForBoot := range extraBindMounts {
		cfg.ExtraBindMounts = append(cfg.ExtraBindMounts, persistgen.BindMountSpec{Path: p, NeededForBoot: neededForBoot})
	}
	sort.Slice(cfg.ExtraBindMounts, func(i, j int) bool {
		return cfg.ExtraBindMounts[i].Path.String() < cfg.ExtraBindMounts[j].Path.String()
	})

	if decl.Disko != nil {
		disk, partition := pick(nil, decl.Disko.Disk, ""), pick(nil, decl.Disko.Partition, "")
		if v.nonEmpty("disko.disk", disk) && v.nonEmpty("disko.partition", partition) {
			cfg.Disko = &persistgen.DiskoConfig{Disk: disk, Partition: partition}
		}
	}

	// The mount table.
	mounts := map[fs.AbsolutePath]persistgen.MountEntry{}
	for _, m := range hostMounts {
		mounts[m.Name] = m
	}
	declared := map[fs.AbsolutePath]string{}
	for _, name := range sortedKeys(decl.FileSystems) {
		fsd := decl.FileSystems[name]
		key := "fileSystems." + name
		p, ok := v.absolutePath(key, name)
		if prev, dup := declared[p]; ok && dup {
			v.fail(key, name, fmt.Errorf("same mount point as fileSystems.%s", prev))
			continue
		}
		device := pick(nil, fsd.Device, "")
		fsType := pick(nil, fsd.FsType, "")
		ok = v.nonEmpty(key+".device", device) && ok
		ok = v.nonEmpty(key+".fsType", fsType) && ok
		if !ok {
			continue
		}
		declared[p] = name
		if _, exists := mounts[p]; exists {
			zerolog.Ctx(ctx).Debug().Str("mount", p.String()).Msg("declared fileSystem replaces host mount")
		}
		mounts[p] = persistgen.MountEntry{Name: p, Device: device, FsType: fsType, Options: unionStrings(fsd.Options, nil)}
	}
	if cfg.Enable && persistOk {
		for _, bm := range cfg.ExtraBindMounts {
			if _, exists := mounts[bm.Path]; exists {
				zerolog.Ctx(ctx).Debug().Str("mount", bm.Path.String()).Msg("extra bind mount already declared as a fileSystem; keeping the declaration")
				continue
			}
			mounts[bm.Path] = persistgen.MountEntry{
				Name:    bm.Path,
				Device:  bm.Path.Under(cfg.PersistentStoragePath).String(),
				FsType:  "none",
				Options: []string{"bind"},
			}
		}
	}
	for _, m := range mounts {
		cfg.FileSystems = append(cfg.FileSystems, m)
	}
	sort.Slice(cfg.FileSystems, func(i, j int) bool {
		return cfg.FileSystems[i].Name.String() < cfg.FileSystems[j].Name.String()
	})

	// Persistence, plus the machine id.
	for _, root := range sortedKeys(decl.Persistence) {
		pd := decl.Persistence[root]
		key := "persistence." + root
		rootPath, ok := v.absolutePath(key, root)
		if !ok {
			continue
		}
		pac := cfg.Persistence[rootPath]
		for _, d := range pd.Directories {
			if p, ok := v.absolutePath(key+".directories."+d, d); ok {
				pac.Directories = append(pac.Directories, p)
			}
		}
		for i, fd := range pd.Files {
			fkey := fmt.Sprintf("%s.files[%d]", key, i)
			if !v.nonEmpty(fkey+".file", fd.File) {
				continue
			}
			p, pOk := v.absolutePath(fkey+".file", fd.File)
			how, howOk := v.method(fkey+".how", pick(nil, &fd.How, ""))
			if pOk && howOk {
				pac.Files = append(pac.Files, persistgen.PreservedFileRecord{File: p, How: how, InInitrd: fd.InInitrd})
			}
		}
		cfg.Persistence[rootPath] = pac
	}
	if cfg.Enable && persistOk && cfg.MachineIdMode.Valid() {
		cfg.Persistence[cfg.PersistentStoragePath] = addMachineId(v, cfg.Persistence[cfg.PersistentStoragePath], cfg.MachineIdMode)
	}
	roots := make(fs.AbsolutePaths, 0, len(cfg.Persistence))
	for root := range cfg.Persistence {
		roots = append(roots, root)
	}
	sort.Sort(roots)
	for _, root := range roots {
		cfg.Persistence[root] = dedupPreserved(v, "persistence."+root.String(), cfg.Persistence[root])
	}

	if v.errs.HasErrors() {
		return nil, Errorf(persistgen.ErrConfigInvalid, "%s", v.errs.Error())
	}
	return cfg, nil
}

// A declaration of the machine id that disagrees with machineIdMode is an error.
func addMachineId(v *validator, pac persistgen.PreserveAtConfig, mode persistgen.Method) persistgen.PreserveAtConfig {
	machineId := fs.MustAbsolutePath(MachineIdPath)
	for i, f := range pac.Files {
		if f.File != machineId {
			continue
		}
		if f.How != mode {
			v.fail("machineIdMode", mode, fmt.Errorf("%s is also declared with how=%s", MachineIdPath, f.How))
		}
		pac.Files[i].InInitrd = true
		return pac
	}
	pac.Files = append(pac.Files, persistgen.PreservedFileRecord{File: machineId, How: mode, InInitrd: true})
	return pac
}

/*
	Sort and deduplicate one root's entries.

	The same file declared twice (say "/etc/foo" and "/etc//foo") is kept
	once if both agree on `how`, and is an error otherwise.
*/
func dedupPreserved(v *validator, key string, pac persistgen.PreserveAtConfig) persistgen.PreserveAtConfig {
	sort.Sort(fs.AbsolutePaths(pac.Directories))
	dirs := pac.Directories[:0]
	for i, d := range pac.Directories {
		if i > 0 && d == pac.Directories[i-1] {
			continue
		}
		dirs = append(dirs, d)
	}
	pac.Directories = dirs

	sort.SliceStable(pac.Files, func(i, j int) bool { return pac.Files[i].File.String() < pac.Files[j].File.String() })
	files := pac.Files[:0]
	for _, f := range pac.Files {
		if n := len(files); n > 0 && files[n-1].File == f.File {
			if files[n-1].How != f.How {
				v.fail(key+".files", f.File.String(), fmt.Errorf("declared both as %s and as %s", files[n-1].How, f.How))
			}
			files[n-1].InInitrd = files[n-1].InInitrd || f.InInitrd
			continue
		}
		files = append(files, f)
	}
	pac.Files = files
	return pac
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func pick[T any](override *T, declared *T, fallback T) T {
	switch {
	case override != nil:
		return *override
	case declared != nil:
		return *declared
	default:
		return fallback
	}
}
