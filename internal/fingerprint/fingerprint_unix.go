//go:build !windows

package fingerprint

import "os/user"

// readUnixSystemID returns the numeric UID of the running process,
// the stable per-machine-account identifier spec.md calls for on
// non-Windows hosts.
func readUnixSystemID() string {
	u, err := user.Current()
	if err != nil || u.Uid == "" {
		return unknownSystemID
	}
	return u.Uid
}

// readWindowsSystemID is unreachable on non-Windows builds; present
// so the OS-branch in compute() type-checks on every platform.
func readWindowsSystemID() string {
	return unknownSystemID
}
