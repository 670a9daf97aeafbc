package tracedio

import (
	"context"
	"os"
	"time"

	"github.com/spf13/afero"

	"github.com/upb/tracex/models"
	"github.com/upb/tracex/services/store"
)

// Fs is an afero.Fs that records file_open events for every file it opens and
// returns handles that record their reads, writes and close. Operations other
// than opening files pass straight through to the base filesystem.
type Fs struct {
	base afero.Fs
	rec  store.Recorder
	ctx  context.Context
	now  func() time.Time
}

var _ afero.Fs = (*Fs)(nil)

// New wraps base. A nil recorder records into store.Default.
func New(base afero.Fs, rec store.Recorder) *Fs {
	if rec == nil {
		rec = store.Default()
	}
	return &Fs{
		base: base,
		rec:  rec,
		ctx:  context.Background(),
		now:  time.Now,
	}
}

// WithContext returns a copy of fs whose events carry ctx's correlation id
func (fs *Fs) WithContext(ctx context.Context) *Fs {
	cp := *fs
	cp.ctx = ctx
	return &cp
}

// Base returns the wrapped filesystem
func (fs *Fs) Base() afero.Fs {
	return fs.base
}

func (fs *Fs) record(eventType models.EventType, functionName string, start time.Time, meta models.Meta) {
	ev := models.NewTraceEvent(fs.ctx, eventType, functionName, start, fs.now().Sub(start), meta)
	fs.rec.Record(ev)
}

func (fs *Fs) opened(f afero.File, name, mode string, start time.Time) afero.File {
	fs.record(models.EventTypeFileOpen, "open", start, models.NewMeta("filename", name, "mode", mode))
	return &File{fs: fs, file: f, name: name, mode: mode}
}

// Open opens name for reading
func (fs *Fs) Open(name string) (afero.File, error) {
	start := fs.now()
	f, err := fs.base.Open(name)
	if err != nil {
		return nil, err
	}
	return fs.opened(f, name, Mode(os.O_RDONLY), start), nil
}

// Create creates or truncates name for reading and writing
func (fs *Fs) Create(name string) (afero.File, error) {
	start := fs.now()
	f, err := fs.base.Create(name)
	if err != nil {
		return nil, err
	}
	return fs.opened(f, name, Mode(os.O_RDWR|os.O_CREATE|os.O_TRUNC), start), nil
}

// OpenFile opens name with the given flags
func (fs *Fs) OpenFile(name string, flag int, perm os.FileMode) (afero.File, error) {
	start := fs.now()
	f, err := fs.base.OpenFile(name, flag, perm)
	if err != nil {
		return nil, err
	}
	return fs.opened(f, name, Mode(flag), start), nil
}

func (fs *Fs) Mkdir(name string, perm os.FileMode) error {
	return fs.base.Mkdir(name, perm)
}

func (fs *Fs) MkdirAll(path string, perm os.FileMode) error {
	return fs.base.MkdirAll(path, perm)
}

func (fs *Fs) Remove(name string) error {
	return fs.base.Remove(name)
}

func (fs *Fs) RemoveAll(path string) error {
	return fs.base.RemoveAll(path)
}

func (fs *Fs) Rename(oldname, newname string) error {
	return fs.base.Rename(oldname, newname)
}

func (fs *Fs) Stat(name string) (os.FileInfo, error) {
	return fs.base.Stat(name)
}

func (fs *Fs) Name() string {
	return "TracedFs(" + fs.base.Name() + ")"
}

func (fs *Fs) Chmod(name string, mode os.FileMode) error {
	return fs.base.Chmod(name, mode)
}

func (fs *Fs) Chown(name string, uid, gid int) error {
	return fs.base.Chown(name, uid, gid)
}

func (fs *Fs) Chtimes(name string, atime time.Time, mtime time.Time) error {
	return fs.base.Chtimes(name, atime, mtime)
}

// Mode renders open flags the way fopen modes are written: r, w, a or x,
// with a trailing + when the file is open for both reading and writing.
func Mode(flag int) string {
	access := flag & (os.O_RDONLY | os.O_WRONLY | os.O_RDWR)

	var mode string
	switch {
	case flag&os.O_CREATE != 0 && flag&os.O_EXCL != 0:
		mode = "x"
	case flag&os.O_APPEND != 0:
		mode = "a"
	case flag&os.O_TRUNC != 0, access == os.O_WRONLY:
		mode = "w"
	default:
		mode = "r"
	}
	if access == os.O_RDWR {
		mode += "+"
	}
	return mode
}
