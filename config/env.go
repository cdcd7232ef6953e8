package config

import (
	"os"
	"path/filepath"
	"strings"
)

const EnvPrefix = "PERSISTGEN"

var (
	EnvPersistPath       = EnvPrefix + "_PERSIST_PATH"
	EnvInstallMountPoint = EnvPrefix + "_INSTALL_MOUNT_POINT"
	EnvConfig            = EnvPrefix + "_CONFIG"
)

/*
	Return the mount point of persistent storage, as the host operator has it.

	The default value is `"/persist"`;
	this can be overriden by the `PERSISTGEN_PERSIST_PATH` environment variable.
	Declarations and command line flags both take precedence over either.
*/
func GetPersistPath() string {
	pth := os.Getenv(EnvPersistPath)
	if pth == "" {
		return DefaultPersistPath
	}
	return pth
}

/*
	Return the path the installer assembles the target system under.

	The default value is `"/mnt"`;
	this can be overriden by the `PERSISTGEN_INSTALL_MOUNT_POINT` environment variable.
	Declarations and command line flags both take precedence over either.
*/
func GetInstallMountPoint() string {
	pth := os.Getenv(EnvInstallMountPoint)
	if pth == "" {
		return DefaultInstallMountPoint
	}
	return pth
}

/*
	Return the declaration files named by the `PERSISTGEN_CONFIG` environment
	variable: a colon-separated list, like `$PATH`.  Empty entries are skipped;
	relative entries are made absolute against the working directory.

	Returns nil when unset.
*/
func GetDeclarationPaths() []string {
	var paths []string
	for _, pth := range strings.Split(os.Getenv(EnvConfig), ":") {
		if pth == "" {
			continue
		}
		abs, err := filepath.Abs(pth)
		if err != nil {
			panic(err)
		}
		paths = append(paths, abs)
	}
	return paths
}
