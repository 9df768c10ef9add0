//go:build !unix

package destination

import "os"

// writable probes by creating and removing a temp file where access(2) is unavailable
func writable(path string) error {
	f, err := os.CreateTemp(path, ".berth-probe-*")
	if err != nil {
		return err
	}
	name := f.Name()
	f.Close()
	return os.Remove(name)
}
