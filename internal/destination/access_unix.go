//go:build unix

package destination

import "golang.org/x/sys/unix"

func writable(path string) error {
	return unix.Access(path, unix.W_OK)
}
