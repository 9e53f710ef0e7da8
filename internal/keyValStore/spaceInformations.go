package keyValStore

import (
	"io/fs"
	"path/filepath"

	"github.com/dustin/go-humanize"
	"github.com/shirou/gopsutil/disk"
	"github.com/sirupsen/logrus"
)

// directorySize sums the regular files below path.
func directorySize(path string) (int64, error) {
	var size int64
	err := filepath.WalkDir(path, func(_ string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return err
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		size += info.Size()
		return nil
	})
	return size, err
}

// logDiskUsage reports filesystem and store sizes at debug level. Failures
// are returned but never fatal to the caller.
func logDiskUsage(paths []string) error {
	for _, path := range paths {
		fields := logrus.Fields{"path": path}

		usage, err := disk.Usage(path)
		if err != nil {
			log.WithFields(fields).Warnf("reading disk usage: %v", err)
			return err
		}
		storeSize, err := directorySize(path)
		if err != nil {
			log.WithFields(fields).Warnf("measuring store size: %v", err)
			return err
		}

		fields["fs"] = usage.Fstype
		fields["total"] = humanize.Bytes(usage.Total)
		fields["free"] = humanize.Bytes(usage.Free)
		fields["store"] = humanize.Bytes(uint64(storeSize))
		log.WithFields(fields).Debug("disk usage")
	}
	return nil
}
