// Package logfile gives read-only access to a whole input log.
package logfile

import (
	"bytes"
	"fmt"
	"os"
)

// File is an input log held in memory. Bytes are valid until Close.
type File struct {
	path    string
	data    []byte
	release func() error
}

// Open maps or reads path in full. Callers must Close the file.
func Open(path string) (*File, error) {
	st, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("open log %s: %w", path, err)
	}
	if st.IsDir() {
		return nil, fmt.Errorf("open log %s: is a directory", path)
	}
	data, release, err := load(path, st.Size())
	if err != nil {
		return nil, fmt.Errorf("open log %s: %w", path, err)
	}
	return &File{path: path, data: data, release: release}, nil
}

func (f *File) Path() string  { return f.path }
func (f *File) Bytes() []byte { return f.data }
func (f *File) Len() int      { return len(f.data) }

// Reader returns a fresh reader over the whole file.
func (f *File) Reader() *bytes.Reader { return bytes.NewReader(f.data) }

// Close releases the mapping. It is safe to call more than once.
func (f *File) Close() error {
	if f == nil || f.release == nil {
		return nil
	}
	release := f.release
	f.release = nil
	f.data = nil
	return release()
}
