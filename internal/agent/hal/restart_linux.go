//go:build linux

package hal

import (
	"fmt"
	"os"
	"syscall"
)

func systemReboot() error {
	syscall.Sync()
	return syscall.Reboot(syscall.LINUX_REBOOT_CMD_RESTART)
}

func execSelf() error {
	exe, err := os.Executable()
	if err != nil {
		return fmt.Errorf("resolve executable: %w", err)
	}
	return syscall.Exec(exe, os.Args, os.Environ())
}
