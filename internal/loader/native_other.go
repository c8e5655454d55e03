// SPDX-License-Identifier: MIT
//go:build !darwin && !linux && !windows

package loader

import (
	"fmt"
	"runtime"
)

// Open always fails: native modules need purego callback support.
func (o *NativeOpener) Open(path string) (Library, error) {
	return nil, fmt.Errorf("%w: %s: native modules are not supported on %s", ErrOpenFailed, path, runtime.GOOS)
}
