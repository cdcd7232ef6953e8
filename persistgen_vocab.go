package persistgen

// Types in this file describe what the host declares it wants persisted.
// They're produced by config resolution and consumed read-only by everything else.

import (
	"github.com/polydawn/persistgen/fs"
)

/*
How a single file is made to survive on the ephemeral root.

Symlink means the file on the ephemeral root is a link pointing into the
persistent storage path; BindMount means the persistent copy is bind-mounted
over the ephemeral one.
*/
type Method string

const (
	Method_Symlink   Method = "symlink"
	Method_BindMount Method = "bindmount"
)

func (m Method) Valid() bool {
	switch m {
	case Method_Symlink, Method_BindMount:
		return true
	default:
		return false
	}
}

var Methods = []Method{Method_Symlink, Method_BindMount}

/*
One declared filesystem mount, as the host's fstab would see it.

Options is a set; order carries no meaning, and duplicates are dropped at resolution.
*/
type MountEntry struct {
	Name    fs.AbsolutePath // mount point
	Device  string          // not necessarily a path; "tmpfs", "LABEL=x", etc are fine
	FsType  string
	Options []string
}

func (m MountEntry) HasOption(opt string) bool {
	for _, o := range m.Options {
		if o == opt {
			return true
		}
	}
	return false
}

/*
Whether this entry re-exposes a directory from the persistent storage path.

The device is compared by whole path segments, so a device of
"/persistent/x" is not considered to be on "/persist".
*/
func (m MountEntry) IsPersistentBind(persistentStoragePath fs.AbsolutePath) bool {
	if m.FsType != "none" || !m.HasOption("bind") {
		return false
	}
	dev, err := fs.ParseAbsolutePath(m.Device)
	if err != nil {
		return false
	}
	return dev.Within(persistentStoragePath)
}

type PreservedFileRecord struct {
	File     fs.AbsolutePath
	How      Method
	InInitrd bool
}

/*
Everything declared to be preserved under one persistent root.
*/
type PreserveAtConfig struct {
	Directories []fs.AbsolutePath
	Files       []PreservedFileRecord
}

/*
A directory that must be bind-mounted from persistent storage.

NeededForBoot marks mounts that have to be in place in the initrd,
before the real root is switched to.
*/
type BindMountSpec struct {
	Path          fs.AbsolutePath
	NeededForBoot bool
}

/*
Present when the host also runs the sops secrets integration.

The age key has to live on persistent storage and be reachable at boot,
so its directory becomes a boot-critical bind mount.
*/
type SopsConfig struct {
	AgeKeyFile fs.AbsolutePath
}

/*
Present when the host's disks are provisioned by disko.

The generated post-mount script is attached as the hook on the named partition.
*/
type DiskoConfig struct {
	Disk      string
	Partition string
}
