package platform

import (
	"io"
	"os"
	"sync"
)

const bufferSize = 1 << 20 // 1 MiB

var bufPool = sync.Pool{
	New: func() any {
		b := make([]byte, bufferSize)
		return &b
	},
}

// copyReadWrite copies the remainder of src into dst with a pooled buffer.
// The files are wrapped so io.CopyBuffer cannot reach *os.File.ReadFrom.
func copyReadWrite(dst, src *os.File) (CopyResult, error) {
	bufp := bufPool.Get().(*[]byte)
	defer bufPool.Put(bufp)

	n, err := io.CopyBuffer(struct{ io.Writer }{dst}, struct{ io.Reader }{src}, *bufp)
	return CopyResult{BytesWritten: n, Method: ReadWrite}, err
}

// CopyReader drains r into w using a pooled buffer. It is the data path for
// throttled copies, where the reader is wrapped by a rate limiter.
func CopyReader(w io.Writer, r io.Reader) (int64, error) {
	bufp := bufPool.Get().(*[]byte)
	defer bufPool.Put(bufp)
	return io.CopyBuffer(struct{ io.Writer }{w}, struct{ io.Reader }{r}, *bufp)
}

// CopyReadWrite is the exported version for use by other packages during testing.
func CopyReadWrite(dst, src *os.File) (CopyResult, error) {
	return copyReadWrite(dst, src)
}
