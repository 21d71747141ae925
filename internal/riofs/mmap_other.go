//go:build !unix

package riofs

import (
	"io"
	"os"
)

func tryMmap(f *os.File, size int64) (io.ReaderAt, io.Closer, bool) {
	return nil, nil, false
}
