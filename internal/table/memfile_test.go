package table

import "errors"

var errOutOfRange = errors.New("table: read past end of file")

// memFile is an in-memory ReadableFile backing the tests in this package.
type memFile struct {
	data []byte
}

func newMemFile(data []byte) *memFile {
	return &memFile{data: data}
}

func (f *memFile) ReadAt(p []byte, off int64) (int, error) {
	if off < 0 || off > int64(len(f.data)) {
		return 0, errOutOfRange
	}
	n := copy(p, f.data[off:])
	if n < len(p) {
		return n, errOutOfRange
	}
	return n, nil
}

func (f *memFile) Size() int64 { return int64(len(f.data)) }
func (f *memFile) Close() error { return nil }
