//go:build !darwin && !linux

package cache

import "fmt"

// totalSystemRAM is unsupported on this platform; callers fall back to the
// static default capacity.
func totalSystemRAM() (uint64, error) {
	return 0, fmt.Errorf("unsupported platform for RAM detection")
}
