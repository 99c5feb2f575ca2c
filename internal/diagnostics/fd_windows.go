//go:build windows

package diagnostics

// CountFDs is not available on Windows; the descriptor threshold of the
// system-resources check is skipped when it returns zeros.
func CountFDs() (open, limit int) {
	return 0, 0
}
