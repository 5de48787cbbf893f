//go:build windows

package diagnostics

// CountFDs returns the number of open file descriptors and the maximum allowed.
// Windows has no cheap equivalent of /proc/self/fd, so this stub reports the
// data as unavailable.
func CountFDs() (open, limit int) {
	return 0, 0
}
