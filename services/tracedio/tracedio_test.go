package tracedio

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/upb/tracex/internal/shared"
	"github.com/upb/tracex/models"
	"github.com/upb/tracex/services"
	"github.com/upb/tracex/services/store"
)

func countTypes(events []models.TraceEvent) map[models.EventType]int {
	counts := make(map[models.EventType]int)
	for _, ev := range events {
		counts[ev.EventType]++
	}
	return counts
}

func newMemFs(t *testing.T) (*Fs, *store.Store) {
	t.Helper()
	st := store.New(nil)
	return New(afero.NewMemMapFs(), st), st
}

func TestEnable_HelloWorld(t *testing.T) {
	t.Cleanup(Disable)
	st := store.New(nil)
	path := filepath.Join(t.TempDir(), "hello.txt")

	require.NoError(t, Enable(New(afero.NewOsFs(), st)))
	assert.True(t, Enabled())

	f, err := Create(path)
	require.NoError(t, err)
	_, err = f.WriteString("Hello World")
	require.NoError(t, err)
	require.NoError(t, f.Close())

	f, err = Open(path)
	require.NoError(t, err)
	data, err := io.ReadAll(f)
	require.NoError(t, err)
	require.NoError(t, f.Close())
	assert.Equal(t, "Hello World", string(data))

	Disable()
	assert.False(t, Enabled())

	counts := countTypes(st.Snapshot())
	assert.GreaterOrEqual(t, counts[models.EventTypeFileOpen], 1)
	assert.GreaterOrEqual(t, counts[models.EventTypeFileWrite], 1)
	assert.GreaterOrEqual(t, counts[models.EventTypeFileRead], 1)
	assert.GreaterOrEqual(t, counts[models.EventTypeFileClose], 1)

	before := st.Len()
	f, err = Open(path)
	require.NoError(t, err)
	_, err = io.ReadAll(f)
	require.NoError(t, err)
	require.NoError(t, f.Close())
	assert.Equal(t, before, st.Len(), "opens after Disable are not traced")
	_, traced := f.(*File)
	assert.False(t, traced)
}

func TestFs_EventMeta(t *testing.T) {
	fs, st := newMemFs(t)

	f, err := fs.Create("/data/out.txt")
	require.NoError(t, err)
	n, err := f.Write([]byte("Hello World"))
	require.NoError(t, err)
	assert.Equal(t, 11, n)
	require.NoError(t, f.Close())

	events := st.Snapshot()
	require.Len(t, events, 3)

	open, write, closeEv := events[0], events[1], events[2]
	assert.Equal(t, models.EventTypeFileOpen, open.EventType)
	assert.Equal(t, "open", open.FunctionName)
	assert.Equal(t, []string{"filename", "mode", "correlation_id"}, open.Meta.Keys())
	mode, _ := open.Meta.Get("mode")
	assert.Equal(t, "w+", mode)

	assert.Equal(t, models.EventTypeFileWrite, write.EventType)
	assert.Equal(t, "write", write.FunctionName)
	written, _ := write.Meta.Get("bytes_written")
	assert.Equal(t, 11.0, written)
	filename, _ := write.Meta.Get("filename")
	assert.Equal(t, "/data/out.txt", filename)

	assert.Equal(t, models.EventTypeFileClose, closeEv.EventType)
	assert.Equal(t, "close", closeEv.FunctionName)
}

func TestFile_ReadEvents(t *testing.T) {
	fs, st := newMemFs(t)
	require.NoError(t, afero.WriteFile(fs.Base(), "/in.txt", []byte("abcdef"), 0o644))

	f, err := fs.Open("/in.txt")
	require.NoError(t, err)
	defer f.Close()

	buf := make([]byte, 4)
	n, err := f.Read(buf)
	require.NoError(t, err)
	assert.Equal(t, 4, n)

	n, err = f.ReadAt(buf[:2], 4)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	events := st.Snapshot()
	require.Len(t, events, 3)
	mode, _ := events[0].Meta.Get("mode")
	assert.Equal(t, "r", mode)

	got, _ := events[1].Meta.Get("bytes_returned")
	assert.Equal(t, 4.0, got)
	got, _ = events[2].Meta.Get("bytes_returned")
	assert.Equal(t, 2.0, got)
	off, _ := events[2].Meta.Get("offset")
	assert.Equal(t, 4.0, off)
}

func TestFile_FailedWriteRecordsNothing(t *testing.T) {
	fs, st := newMemFs(t)
	require.NoError(t, afero.WriteFile(fs.Base(), "/ro.txt", []byte("x"), 0o644))

	f, err := fs.Open("/ro.txt")
	require.NoError(t, err)
	defer f.Close()

	_, err = f.Write([]byte("nope"))
	require.Error(t, err)
	assert.Equal(t, map[models.EventType]int{models.EventTypeFileOpen: 1}, countTypes(st.Snapshot()))
}

func TestFile_ClosedHandle(t *testing.T) {
	fs, st := newMemFs(t)

	f, err := fs.Create("/c.txt")
	require.NoError(t, err)
	require.NoError(t, f.Close())
	after := st.Len()

	_, err = f.Read(make([]byte, 1))
	assert.ErrorIs(t, err, services.ErrHandleClosed)
	_, err = f.ReadAt(make([]byte, 1), 0)
	assert.ErrorIs(t, err, services.ErrHandleClosed)
	_, err = f.Write([]byte("x"))
	assert.ErrorIs(t, err, services.ErrHandleClosed)
	_, err = f.WriteAt([]byte("x"), 0)
	assert.ErrorIs(t, err, services.ErrHandleClosed)
	_, err = f.WriteString("x")
	assert.ErrorIs(t, err, services.ErrHandleClosed)
	_, err = f.Seek(0, io.SeekStart)
	assert.ErrorIs(t, err, services.ErrHandleClosed)
	_, err = f.Stat()
	assert.ErrorIs(t, err, services.ErrHandleClosed)
	assert.ErrorIs(t, f.Sync(), services.ErrHandleClosed)
	assert.ErrorIs(t, f.Truncate(0), services.ErrHandleClosed)
	_, err = f.Readdir(0)
	assert.ErrorIs(t, err, services.ErrHandleClosed)
	_, err = f.Readdirnames(0)
	assert.ErrorIs(t, err, services.ErrHandleClosed)

	err = f.Close()
	assert.ErrorIs(t, err, services.ErrHandleClosed)
	assert.True(t, services.IsHandleClosedError(err))
	var pathErr *os.PathError
	require.ErrorAs(t, err, &pathErr)
	assert.Equal(t, "close", pathErr.Op)

	assert.Equal(t, after, st.Len(), "operations on a closed handle record nothing")
	assert.Equal(t, 1, countTypes(st.Snapshot())[models.EventTypeFileClose])
}

func TestFile_DeferredCloseRecordsOnce(t *testing.T) {
	fs, st := newMemFs(t)

	func() {
		f, err := fs.Create("/d.txt")
		require.NoError(t, err)
		defer f.Close()
		_, err = f.WriteString("hi")
		require.NoError(t, err)
	}()

	assert.Equal(t, 1, countTypes(st.Snapshot())[models.EventTypeFileClose])
}

type failingCloseFile struct {
	afero.File
}

func (f failingCloseFile) Close() error {
	_ = f.File.Close()
	return errors.New("disk gone")
}

type failingCloseFs struct {
	afero.Fs
}

func (fs failingCloseFs) Create(name string) (afero.File, error) {
	f, err := fs.Fs.Create(name)
	if err != nil {
		return nil, err
	}
	return failingCloseFile{File: f}, nil
}

func TestFile_FailedCloseRecordsOnce(t *testing.T) {
	st := store.New(nil)
	fs := New(failingCloseFs{Fs: afero.NewMemMapFs()}, st)

	f, err := fs.Create("/e.txt")
	require.NoError(t, err)

	err = f.Close()
	require.EqualError(t, err, "disk gone")
	assert.ErrorIs(t, f.Close(), services.ErrHandleClosed)
	assert.Equal(t, "/e.txt", f.Name())

	events := st.Snapshot()
	require.Equal(t, 1, countTypes(events)[models.EventTypeFileClose])
	last := events[len(events)-1]
	assert.Equal(t, models.EventTypeFileClose, last.EventType)
	msg, ok := last.Meta.Get("error")
	assert.True(t, ok)
	assert.Equal(t, "disk gone", msg)
}

func TestFs_FailedOpenRecordsNothing(t *testing.T) {
	fs, st := newMemFs(t)

	_, err := fs.Open("/missing.txt")
	require.Error(t, err)
	assert.ErrorIs(t, err, os.ErrNotExist)

	_, err = fs.OpenFile("/missing/dir/file.txt", os.O_RDONLY, 0)
	require.Error(t, err)
	assert.Equal(t, 0, st.Len())
}

func TestFs_WithContext(t *testing.T) {
	fs, st := newMemFs(t)
	ctx := shared.WithCorrelationID(context.Background(), "io-1")

	f, err := fs.WithContext(ctx).Create("/ctx.txt")
	require.NoError(t, err)
	require.NoError(t, f.Close())

	g, err := fs.Create("/plain.txt")
	require.NoError(t, err)
	require.NoError(t, g.Close())

	events := st.Snapshot()
	require.Len(t, events, 4)
	for _, ev := range events[:2] {
		id, _ := ev.CorrelationID()
		assert.Equal(t, "io-1", id)
	}
	for _, ev := range events[2:] {
		_, ok := ev.CorrelationID()
		assert.False(t, ok)
	}
}

func TestFs_Delegates(t *testing.T) {
	fs, st := newMemFs(t)

	require.NoError(t, fs.MkdirAll("/a/b", 0o755))
	require.NoError(t, fs.Mkdir("/a/c", 0o755))
	require.NoError(t, afero.WriteFile(fs.Base(), "/a/b/f.txt", []byte("x"), 0o644))
	require.NoError(t, fs.Rename("/a/b/f.txt", "/a/b/g.txt"))

	info, err := fs.Stat("/a/b/g.txt")
	require.NoError(t, err)
	assert.Equal(t, int64(1), info.Size())

	require.NoError(t, fs.Chmod("/a/b/g.txt", 0o600))
	require.NoError(t, fs.Remove("/a/b/g.txt"))
	require.NoError(t, fs.RemoveAll("/a"))
	assert.Equal(t, "TracedFs(MemMapFS)", fs.Name())
	assert.Equal(t, 0, st.Len())

	dir, err := fs.Open("/")
	require.NoError(t, err)
	defer dir.Close()
	_, err = dir.Readdirnames(-1)
	assert.NoError(t, err)
}

func TestMode(t *testing.T) {
	tests := []struct {
		flag int
		want string
	}{
		{os.O_RDONLY, "r"},
		{os.O_RDWR, "r+"},
		{os.O_WRONLY, "w"},
		{os.O_WRONLY | os.O_CREATE | os.O_TRUNC, "w"},
		{os.O_RDWR | os.O_CREATE | os.O_TRUNC, "w+"},
		{os.O_WRONLY | os.O_CREATE | os.O_APPEND, "a"},
		{os.O_RDWR | os.O_CREATE | os.O_APPEND, "a+"},
		{os.O_WRONLY | os.O_CREATE | os.O_EXCL, "x"},
		{os.O_RDWR | os.O_CREATE | os.O_EXCL, "x+"},
	}

	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			assert.Equal(t, tt.want, Mode(tt.flag))
		})
	}
}

func TestEnable_AlreadyInstalled(t *testing.T) {
	t.Cleanup(Disable)
	first, _ := newMemFs(t)
	second, _ := newMemFs(t)

	require.NoError(t, Enable(first))
	err := Enable(second)
	assert.ErrorIs(t, err, services.ErrAlreadyInstalled)
	assert.ErrorIs(t, Enable(first), services.ErrAlreadyInstalled)
	assert.Same(t, first, Provider())

	Disable()
	Disable()
	require.NoError(t, Enable(second))
	assert.Same(t, second, Provider())

	assert.Error(t, Enable(nil))
}

func TestEnable_ConcurrentOpensSeeOneProvider(t *testing.T) {
	t.Cleanup(Disable)
	dir := t.TempDir()
	path := filepath.Join(dir, "shared.txt")
	require.NoError(t, os.WriteFile(path, []byte("x"), 0o644))

	st := store.New(nil)
	traced := New(afero.NewOsFs(), st)

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 0; i < 100; i++ {
			_ = Enable(traced)
			Disable()
		}
	}()
	for w := 0; w < 4; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 100; i++ {
				f, err := Open(path)
				if !assert.NoError(t, err) {
					return
				}
				assert.NoError(t, f.Close())
			}
		}()
	}
	wg.Wait()

	// Every traced handle records exactly one open and one close.
	counts := countTypes(st.Snapshot())
	assert.Equal(t, counts[models.EventTypeFileOpen], counts[models.EventTypeFileClose])
}
