//go:build !linux

package platform

import "os"

// CopyFile copies src into dst with a read/write loop on platforms without
// an in-kernel copy primitive.
func CopyFile(dst, src *os.File, size int64) (CopyResult, error) {
	reserve(dst, size)
	return copyReadWrite(dst, src)
}
