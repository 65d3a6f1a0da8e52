//go:build linux

package attach

import (
	"salvagewatch/process"
	"salvagewatch/process_linux"
)

func openPlatform(pid process.ProcessID) (process.Process, error) {
	return process_linux.NewWithPID(pid)
}
