package storage

// DiskSpace is a filesystem usage snapshot in bytes.
type DiskSpace struct {
	Avail uint64
	Total uint64
}

func (d DiskSpace) Used() uint64 {
	return d.Total - d.Avail
}

func (d DiskSpace) AvailGB() float64 {
	return float64(d.Avail) / (1024 * 1024 * 1024)
}
