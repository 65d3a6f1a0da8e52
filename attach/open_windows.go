//go:build windows

package attach

import (
	"salvagewatch/process"
	"salvagewatch/process_windows"
)

func openPlatform(pid process.ProcessID) (process.Process, error) {
	return process_windows.NewWithPID(pid)
}
