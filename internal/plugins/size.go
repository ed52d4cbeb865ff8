package plugins

import (
	"io/fs"
	"path/filepath"
)

// scanSize measures the configuration directory. Failures leave the size
// unknown; SizeBytes then keeps reporting the declared value.
func (c *Configuration) scanSize() {
	defer close(c.sizeDone)

	size, err := DirSize(c.dir)
	if err != nil {
		return
	}
	c.scannedSize.Store(size)
	c.sizeKnown.Store(true)
}

// DirSize returns the total size in bytes of the regular files under dir.
func DirSize(dir string) (int64, error) {
	var total int64
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.Type().IsRegular() {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		total += info.Size()
		return nil
	})
	if err != nil {
		return 0, err
	}
	return total, nil
}
