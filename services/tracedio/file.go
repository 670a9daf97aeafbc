package tracedio

import (
	"errors"
	"io"
	"os"
	"sync"

	"github.com/spf13/afero"

	"github.com/upb/tracex/models"
	"github.com/upb/tracex/services"
)

// File is a traced handle. Reads and writes record one event each, Close
// records file_close once, and every call after Close fails with
// services.ErrHandleClosed without recording anything.
type File struct {
	fs   *Fs
	file afero.File
	name string
	mode string

	mu     sync.RWMutex
	closed bool
}

var _ afero.File = (*File)(nil)

func (f *File) closedErr(op string) error {
	return &os.PathError{Op: op, Path: f.name, Err: services.ErrHandleClosed}
}

// acquire holds the read lock for an operation on an open handle
func (f *File) acquire(op string) error {
	f.mu.RLock()
	if f.closed {
		f.mu.RUnlock()
		return f.closedErr(op)
	}
	return nil
}

func (f *File) meta(pairs ...any) models.Meta {
	m := models.NewMeta("filename", f.name, "mode", f.mode)
	for i := 0; i+1 < len(pairs); i += 2 {
		m.Set(pairs[i].(string), pairs[i+1])
	}
	return m
}

func readSucceeded(n int, err error) bool {
	return n > 0 || err == nil || errors.Is(err, io.EOF)
}

func (f *File) Read(p []byte) (int, error) {
	if err := f.acquire("read"); err != nil {
		return 0, err
	}
	defer f.mu.RUnlock()

	start := f.fs.now()
	n, err := f.file.Read(p)
	if readSucceeded(n, err) {
		f.fs.record(models.EventTypeFileRead, "read", start, f.meta("bytes_returned", n))
	}
	return n, err
}

func (f *File) ReadAt(p []byte, off int64) (int, error) {
	if err := f.acquire("read"); err != nil {
		return 0, err
	}
	defer f.mu.RUnlock()

	start := f.fs.now()
	n, err := f.file.ReadAt(p, off)
	if readSucceeded(n, err) {
		f.fs.record(models.EventTypeFileRead, "read", start, f.meta("bytes_returned", n, "offset", off))
	}
	return n, err
}

func (f *File) Write(p []byte) (int, error) {
	if err := f.acquire("write"); err != nil {
		return 0, err
	}
	defer f.mu.RUnlock()

	start := f.fs.now()
	n, err := f.file.Write(p)
	if n > 0 || err == nil {
		f.fs.record(models.EventTypeFileWrite, "write", start, f.meta("bytes_written", n))
	}
	return n, err
}

func (f *File) WriteAt(p []byte, off int64) (int, error) {
	if err := f.acquire("write"); err != nil {
		return 0, err
	}
	defer f.mu.RUnlock()

	start := f.fs.now()
	n, err := f.file.WriteAt(p, off)
	if n > 0 || err == nil {
		f.fs.record(models.EventTypeFileWrite, "write", start, f.meta("bytes_written", n, "offset", off))
	}
	return n, err
}

func (f *File) WriteString(s string) (int, error) {
	return f.Write([]byte(s))
}

// Close closes the underlying file. Only the first call records file_close.
// The handle counts as closed even when the underlying Close fails; the event
// then carries the failure under "error".
func (f *File) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return f.closedErr("close")
	}
	f.closed = true

	start := f.fs.now()
	err := f.file.Close()
	meta := f.meta()
	if err != nil {
		meta.Set("error", err.Error())
	}
	f.fs.record(models.EventTypeFileClose, "close", start, meta)
	return err
}

// Name returns the name the file was opened with. It works after Close.
func (f *File) Name() string {
	return f.name
}

// Mode returns the open mode, such as "r" or "w+"
func (f *File) Mode() string {
	return f.mode
}

func (f *File) Readdir(count int) ([]os.FileInfo, error) {
	if err := f.acquire("readdir"); err != nil {
		return nil, err
	}
	defer f.mu.RUnlock()
	return f.file.Readdir(count)
}

func (f *File) Readdirnames(n int) ([]string, error) {
	if err := f.acquire("readdirnames"); err != nil {
		return nil, err
	}
	defer f.mu.RUnlock()
	return f.file.Readdirnames(n)
}

func (f *File) Stat() (os.FileInfo, error) {
	if err := f.acquire("stat"); err != nil {
		return nil, err
	}
	defer f.mu.RUnlock()
	return f.file.Stat()
}

func (f *File) Sync() error {
	if err := f.acquire("sync"); err != nil {
		return err
	}
	defer f.mu.RUnlock()
	return f.file.Sync()
}

func (f *File) Truncate(size int64) error {
	if err := f.acquire("truncate"); err != nil {
		return err
	}
	defer f.mu.RUnlock()
	return f.file.Truncate(size)
}

func (f *File) Seek(offset int64, whence int) (int64, error) {
	if err := f.acquire("seek"); err != nil {
		return 0, err
	}
	defer f.mu.RUnlock()
	return f.file.Seek(offset, whence)
}
