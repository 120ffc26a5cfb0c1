//go:build !windows

package storage

import "golang.org/x/sys/unix"

// FreeSpace reports the space available to unprivileged writers on the
// filesystem holding path.
func FreeSpace(path string) (DiskSpace, error) {
	var stat unix.Statfs_t
	if err := unix.Statfs(path, &stat); err != nil {
		return DiskSpace{}, err
	}
	return DiskSpace{
		Avail: uint64(stat.Bavail) * uint64(stat.Bsize),
		Total: uint64(stat.Blocks) * uint64(stat.Bsize),
	}, nil
}

func checkWritable(dir string) error {
	return unix.Access(dir, unix.R_OK|unix.W_OK|unix.X_OK)
}
