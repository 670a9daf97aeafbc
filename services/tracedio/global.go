package tracedio

import (
	"os"
	"sync/atomic"

	"github.com/spf13/afero"

	"github.com/upb/tracex/services"
)

var (
	untraced  afero.Fs = afero.NewOsFs()
	installed atomic.Pointer[Fs]
)

// Enable routes the package-level Open, Create and OpenFile through fs. It
// fails with services.ErrAlreadyInstalled while another Fs is enabled.
func Enable(fs *Fs) error {
	if fs == nil {
		return services.WrapError(services.ErrorTypeValidation, "traced filesystem is nil", nil)
	}
	if !installed.CompareAndSwap(nil, fs) {
		return services.ErrAlreadyInstalled
	}
	return nil
}

// Disable restores the untraced OS filesystem. It is a no-op when nothing is
// enabled.
func Disable() {
	installed.Store(nil)
}

// Enabled reports whether a traced Fs is installed
func Enabled() bool {
	return installed.Load() != nil
}

// Provider returns the filesystem the package-level functions currently use
func Provider() afero.Fs {
	if fs := installed.Load(); fs != nil {
		return fs
	}
	return untraced
}

// Open opens name through the current provider
func Open(name string) (afero.File, error) {
	return Provider().Open(name)
}

// Create creates name through the current provider
func Create(name string) (afero.File, error) {
	return Provider().Create(name)
}

// OpenFile opens name through the current provider
func OpenFile(name string, flag int, perm os.FileMode) (afero.File, error) {
	return Provider().OpenFile(name, flag, perm)
}
