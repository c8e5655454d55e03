// SPDX-License-Identifier: MIT
package loader

import (
	"errors"
	"path/filepath"
	"runtime"
	"strings"

	"hotswap/internal/abi"
)

var (
	ErrLibraryNotFound        = errors.New("library not found")
	ErrOpenFailed             = errors.New("failed to open library")
	ErrSymbolResolutionFailed = errors.New("factory symbol not found")
	ErrIncompatibleABI        = errors.New("incompatible processor ABI")
	ErrFactoryFailed          = errors.New("processor factory failed")
	ErrNothingLoaded          = errors.New("no library has been loaded")
)

// Opener opens a library file with the platform's dynamic loading facility.
type Opener interface {
	Open(path string) (Library, error)
}

// Library is an open dynamic library.
type Library interface {
	// Lookup resolves the factory exported under symbol.
	Lookup(symbol string) (abi.Factory, error)
	// Close releases the handle. No code from the library may run afterwards.
	Close() error
}

// DefaultTempSuffix is appended to the file stem of the private copy.
const DefaultTempSuffix = "_temp"

// Extension returns the file suffix of dynamic libraries on this platform.
func Extension() string {
	switch runtime.GOOS {
	case "darwin", "ios":
		return ".dylib"
	case "windows":
		return ".dll"
	default:
		return ".so"
	}
}

// TempPath returns the private copy path for a library: the same directory,
// the file stem plus suffix, and the original extension.
//
//	/build/gain.so -> /build/gain_temp.so
func TempPath(path, suffix string) string {
	dir, file := filepath.Split(path)
	ext := filepath.Ext(file)
	stem := strings.TrimSuffix(file, ext)
	return filepath.Join(dir, stem+suffix+ext)
}

// NativeOpener opens shared libraries that export the C processor ABI
// declared in abi/hotswap.h.
type NativeOpener struct {
	// ABIConstraint is checked against every table createProcessor returns.
	ABIConstraint string
}
