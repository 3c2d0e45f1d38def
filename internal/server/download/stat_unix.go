//go:build unix

package download

import (
	"os"
	"syscall"
)

// linkCount returns the hardlink count for the file, or 1 when the platform
// stat data is unavailable.
func linkCount(fi os.FileInfo) uint64 {
	if st, ok := fi.Sys().(*syscall.Stat_t); ok {
		return uint64(st.Nlink)
	}
	return 1
}
