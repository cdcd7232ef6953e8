/*
	Helpers for loading, merging, and resolving persistgen declarations.

	"Declarations" are the YAML files describing what a host wants persisted.
	Any number of them can be given; they're merged (see `Merge`) the same way
	no matter what order they arrive in, then resolved into a `Config`:
	validated, defaulted, and with the generated entries filled in.

	Host-operator defaults (where persistent storage is mounted, where the
	installer assembles the target) can also come from the environment;
	see `GetPersistPath` and friends.
*/
package config

import (
	"github.com/polydawn/persistgen"
	"github.com/polydawn/persistgen/fs"
)

/*
	A fully resolved configuration.  All paths are validated and absolute,
	all lists are sorted, and all generated entries are present.

	Consumers should treat this as read-only.
*/
type Config struct {
	Enable                bool
	PersistentStoragePath fs.AbsolutePath
	InstallMountPoint     fs.AbsolutePath
	MachineIdMode         persistgen.Method

	// Sorted by path.
	ExtraBindMounts []persistgen.BindMountSpec

	// The host's complete mount table: declared, imported from fstab,
	// and generated from ExtraBindMounts.  Sorted by mount point.
	FileSystems []persistgen.MountEntry

	// Keyed by persistent root.
	Persistence map[fs.AbsolutePath]persistgen.PreserveAtConfig

	// Optional integrations; nil when the host doesn't use them.
	Sops  *persistgen.SopsConfig
	Disko *persistgen.DiskoConfig
}

const (
	DefaultPersistPath       = "/persist"
	DefaultInstallMountPoint = "/mnt"
	DefaultMachineIdMode     = persistgen.Method_Symlink

	// Persisted regardless of other declarations, per MachineIdMode.
	MachineIdPath = "/etc/machine-id"
)
