//go:build windows

package storage

import "golang.org/x/sys/windows"

func FreeSpace(path string) (DiskSpace, error) {
	pathPtr, err := windows.UTF16PtrFromString(path)
	if err != nil {
		return DiskSpace{}, err
	}
	var avail, total, totalFree uint64
	if err := windows.GetDiskFreeSpaceEx(pathPtr, &avail, &total, &totalFree); err != nil {
		return DiskSpace{}, err
	}
	return DiskSpace{Avail: avail, Total: total}, nil
}

func checkWritable(string) error { return nil }
