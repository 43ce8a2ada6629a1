//go:build linux

package store

import (
	"fmt"
	"syscall"
)

// statfs f_type magics for the network filesystems we refuse, from
// linux/magic.h.
var linuxFSMagics = map[uint64]string{
	0x6969:     "nfs",
	0xFF534D42: "cifs",
	0x517B:     "smbfs",
	0xFE534D42: "smb2",
}

func fsTypeOf(path string) (string, error) {
	var stat syscall.Statfs_t
	if err := syscall.Statfs(path, &stat); err != nil {
		return "", fmt.Errorf("statfs %q: %w", path, err)
	}

	magic := uint64(stat.Type)
	if name, ok := linuxFSMagics[magic]; ok {
		return name, nil
	}
	// Unrecognized magics pass the check; render them for the error path.
	return fmt.Sprintf("0x%x", magic), nil
}
