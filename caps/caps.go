/*
	Provides helper functions for checking if we have some functional sets of capabilities.

	persistgen never mounts anything itself; this is for deciding whether the
	scripts it generates can be exercised for real, in tests.
*/
package caps

import (
	"os"
	"runtime"

	"github.com/syndtr/gocapability/capability"
)

func Scan() *Fulcrum {
	f := &Fulcrum{}
	f.onLinux = runtime.GOOS == "linux"
	f.ourUID = os.Getuid()
	if f.onLinux {
		caps, err := capability.NewPid(0) // zero means self
		if err == nil {
			f.ourCaps = caps
		}
	}
	return f
}

type Fulcrum struct {
	onLinux bool
	ourUID  int
	ourCaps capability.Capabilities // valid on linux; nil elsewhere, or if the probe failed.
}

// Whether we have enough caps to confidently use bind mounts.
// This requires "have CAP_SYS_ADMIN", because mounts are typically considered a very
// powerful operation on linux.
// `mount --bind` is linux-only, so elsewhere this is always false.
// If we couldn't read our own caps, we guess by uid==0.
func (f Fulcrum) CanMountBind() bool {
	if !f.onLinux {
		return false
	}
	if f.ourCaps == nil {
		return f.ourUID == 0
	}
	return f.ourCaps.Get(capability.EFFECTIVE, capability.CAP_SYS_ADMIN)
}
