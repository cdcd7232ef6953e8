package config

import (
	"fmt"
	"path"
	"sort"
	"strings"

	. "github.com/warpfork/go-errcat"

	"github.com/polydawn/persistgen"
)

/*
	Merge several declarations into one.

	The result does not depend on the order of the arguments:

	  - scalars may be set by any number of declarations, but they must agree;
	  - lists with set semantics (mount options, persisted directories) are unioned;
	  - maps are merged key by key, recursively by the same rules;
	    path keys are cleaned first, so "/srv" and "/srv/" are one entry;
	  - booleans that only ever add requirements (`neededForBoot`, `inInitrd`)
	    are true if any declaration says so;
	  - an optional integration is present if any declaration mentions it.

	Every disagreement is collected and reported together in one
	ErrConfigConflict error.
*/
func Merge(decls ...*Declaration) (*Declaration, error) {
	m := merger{}
	result := &Declaration{}
	var sources []string
	for _, decl := range decls {
		if decl == nil {
			continue
		}
		if decl.Source != "" {
			sources = append(sources, decl.Source)
		}
		m.mergeInto(result, decl)
	}
	sort.Strings(sources)
	result.Source = strings.Join(sources, ", ")
	if len(m.conflicts) > 0 {
		return nil, Errorf(persistgen.ErrConfigConflict, "declarations conflict:\n - %s", strings.Join(m.report(), "\n - "))
	}
	return result, nil
}

// Conflicting fields and every distinct value seen for each.
type merger struct {
	conflicts map[string]map[string]struct{}
}

func (m *merger) mergeInto(into, from *Declaration) {
	mergeScalar(m, "enable", &into.Enable, from.Enable)
	mergeScalar(m, "persistentStoragePath", &into.PersistentStoragePath, from.PersistentStoragePath)
	mergeScalar(m, "installMountPoint", &into.InstallMountPoint, from.InstallMountPoint)
	mergeScalar(m, "machineIdMode", &into.MachineIdMode, from.MachineIdMode)

	for pth, bm := range from.ExtraBindMounts {
		if into.ExtraBindMounts == nil {
			into.ExtraBindMounts = map[string]BindMountDecl{}
		}
		pth = cleanPath(pth)
		prev := into.ExtraBindMounts[pth]
		prev.NeededForBoot = prev.NeededForBoot || bm.NeededForBoot
		into.ExtraBindMounts[pth] = prev
	}

	for name, fsd := range from.FileSystems {
		if into.FileSystems == nil {
			into.FileSystems = map[string]FileSystemDecl{}
		}
		name = cleanPath(name)
		prev := into.FileSystems[name]
		mergeScalar(m, "fileSystems."+name+".device", &prev.Device, fsd.Device)
		mergeScalar(m, "fileSystems."+name+".fsType", &prev.FsType, fsd.FsType)
		prev.Options = unionStrings(prev.Options, fsd.Options)
		into.FileSystems[name] = prev
	}

	for root, pd := range from.Persistence {
		if into.Persistence == nil {
			into.Persistence = map[string]PersistenceDecl{}
		}
		root = cleanPath(root)
		prev := into.Persistence[root]
		prev.Directories = unionStrings(prev.Directories, cleanPaths(pd.Directories))
		prev.Files = m.mergeFiles("persistence."+root+".files", prev.Files, pd.Files)
		into.Persistence[root] = prev
	}

	if from.Sops != nil {
		if into.Sops == nil {
			into.Sops = &SopsDecl{}
		}
		mergeScalar(m, "sops.ageKeyFile", &into.Sops.AgeKeyFile, from.Sops.AgeKeyFile)
	}
	if from.Disko != nil {
		if into.Disko == nil {
			into.Disko = &DiskoDecl{}
		}
		mergeScalar(m, "disko.disk", &into.Disko.Disk, from.Disko.Disk)
		mergeScalar(m, "disko.partition", &into.Disko.Partition, from.Disko.Partition)
	}
}

// Files are keyed by cleaned path.  Result is sorted by path.
func (m *merger) mergeFiles(field string, into, from []FileDecl) []FileDecl {
	byPath := make(map[string]FileDecl, len(into)+len(from))
	for _, fd := range append(append([]FileDecl{}, into...), from...) {
		fd.File = cleanPath(fd.File)
		if fd.How == "" {
			fd.How = string(persistgen.Method_Symlink)
		}
		prev, exists := byPath[fd.File]
		if !exists {
			byPath[fd.File] = fd
			continue
		}
		if prev.How != fd.How {
			m.conflict(field+"."+fd.File+".how", prev.How, fd.How)
		}
		prev.InInitrd = prev.InInitrd || fd.InInitrd
		byPath[fd.File] = prev
	}
	result := make([]FileDecl, 0, len(byPath))
	for _, fd := range byPath {
		result = append(result, fd)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].File < result[j].File })
	return result
}

// Absolute paths are cleaned; anything else is left for Resolve to complain about.
func cleanPath(s string) string {
	if strings.HasPrefix(s, "/") {
		return path.Clean(s)
	}
	return s
}

func cleanPaths(ss []string) []string {
	if ss == nil {
		return nil
	}
	result := make([]string, len(ss))
	for i, s := range ss {
		result[i] = cleanPath(s)
	}
	return result
}

func mergeScalar[T comparable](m *merger, field string, into **T, from *T) {
	switch {
	case from == nil:
		return
	case *into == nil:
		v := *from
		*into = &v
	case **into != *from:
		m.conflict(field, **into, *from)
	}
}

func (m *merger) conflict(field string, a, b interface{}) {
	if m.conflicts == nil {
		m.conflicts = map[string]map[string]struct{}{}
	}
	if m.conflicts[field] == nil {
		m.conflicts[field] = map[string]struct{}{}
	}
	m.conflicts[field][fmt.Sprintf("%v", a)] = struct{}{}
	m.conflicts[field][fmt.Sprintf("%v", b)] = struct{}{}
}

func (m *merger) report() []string {
	var lines []string
	for field, vals := range m.conflicts {
		quoted := make([]string, 0, len(vals))
		for v := range vals {
			quoted = append(quoted, fmt.Sprintf("%q", v))
		}
		sort.Strings(quoted)
		lines = append(lines, fmt.Sprintf("%s is declared with conflicting values %s", field, strings.Join(quoted, ", ")))
	}
	sort.Strings(lines)
	return lines
}

func unionStrings(a, b []string) []string {
	if len(a) == 0 && len(b) == 0 {
		return nil
	}
	seen := make(map[string]struct{}, len(a)+len(b))
	result := make([]string, 0, len(a)+len(b))
	for _, s := range append(append([]string{}, a...), b...) {
		if _, ok := seen[s]; ok {
			continue
		}
		seen[s] = struct{}{}
		result = append(result, s)
	}
	sort.Strings(result)
	return result
}
