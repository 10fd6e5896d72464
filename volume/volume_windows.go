//go:build windows

package volume

import (
	"hash/fnv"
	"path/filepath"
	"syscall"
	"unsafe"

	"emperror.dev/errors"
)

// Stat computes the capacity figures for the volume rooted at path using
// GetDiskFreeSpaceEx. Windows has no statvfs device-id equivalent exposed
// this simply, so the drive letter itself (uppercased) stands in as the
// dedup key - two volume entries pointing at the same drive letter are
// treated as the same device, matching the teacher's drive-letter matching
// in its Windows disk helper.
func Stat(path string) (totalMiB, availableMiB float64, deviceID uint64, err error) {
	var freeBytesAvailable, totalBytes, totalFreeBytes uint64

	root := filepath.VolumeName(path) + `\`
	rootPtr, err := syscall.UTF16PtrFromString(root)
	if err != nil {
		return 0, 0, 0, errors.WithMessagef(err, "volume: invalid path %s", path)
	}

	kernel32 := syscall.NewLazyDLL("kernel32.dll")
	getDiskFreeSpaceEx := kernel32.NewProc("GetDiskFreeSpaceExW")
	ret, _, callErr := getDiskFreeSpaceEx.Call(
		uintptr(unsafe.Pointer(rootPtr)),
		uintptr(unsafe.Pointer(&freeBytesAvailable)),
		uintptr(unsafe.Pointer(&totalBytes)),
		uintptr(unsafe.Pointer(&totalFreeBytes)),
	)
	if ret == 0 {
		return 0, 0, 0, errors.WithMessagef(callErr, "volume: GetDiskFreeSpaceEx failed for %s", path)
	}

	h := fnv.New64a()
	_, _ = h.Write([]byte(root))

	return float64(totalBytes) / mib, float64(freeBytesAvailable) / mib, h.Sum64(), nil
}
