//go:build darwin

package store

import (
	"fmt"
	"syscall"
)

// Darwin reports the type by name in Fstypename, a NUL-padded int8 array.
func fsTypeOf(path string) (string, error) {
	var stat syscall.Statfs_t
	if err := syscall.Statfs(path, &stat); err != nil {
		return "", fmt.Errorf("statfs %q: %w", path, err)
	}

	name := stat.Fstypename[:]
	out := make([]byte, 0, len(name))
	for _, c := range name {
		if c == 0 {
			break
		}
		out = append(out, byte(c))
	}
	return string(out), nil
}
