//go:build !darwin && !dragonfly && !freebsd && !linux && !netbsd && !openbsd && !solaris
// +build !darwin,!dragonfly,!freebsd,!linux,!netbsd,!openbsd,!solaris

package storage

import (
	"io"
	"os"
)

// lockFile creates the lock file. No exclusion is enforced on this platform.
func lockFile(name string) (io.Closer, error) {
	return os.Create(name)
}
