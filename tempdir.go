package photobooth

import (
	"os"
)

// TempDir returns either a temporary directory in /dev/shm (if it exists), or
// otherwise in the OS default temporary directory. Recorders write camera
// frames here, so a memory backed filesystem keeps the preview loop off disk.
func TempDir() (string, error) {
	// Check if /dev/shm exists first. Don't want to accidentially create a
	// directory in /dev (if someones runs this as root).
	if fi, err := os.Stat("/dev/shm"); err == nil && fi.IsDir() {
		dir, err := os.MkdirTemp("/dev/shm", "photobooth-frames")
		if err == nil {
			return dir, nil
		}
	}
	return os.MkdirTemp("", "photobooth-frames")
}
