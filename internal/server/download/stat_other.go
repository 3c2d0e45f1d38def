//go:build !unix

package download

import "os"

// linkCount is a no-op on platforms without POSIX link counts; the TOCTOU
// descriptor re-stat still guards size substitution.
func linkCount(os.FileInfo) uint64 {
	return 1
}
