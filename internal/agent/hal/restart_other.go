//go:build !linux

package hal

import (
	"fmt"
	"runtime"
)

func systemReboot() error {
	return fmt.Errorf("system reboot is not supported on %s", runtime.GOOS)
}

func execSelf() error {
	return fmt.Errorf("re-exec is not supported on %s", runtime.GOOS)
}
