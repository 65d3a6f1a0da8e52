package attach

import (
	"fmt"

	"salvagewatch/process"
	"salvagewatch/process_blob"
)

// Replay attaches to a dump directory written by process_blob.Save. Each Attach
// loads the dump again so every session gets its own handle.
type Replay struct {
	Dir string
}

func NewReplay(dir string) *Replay {
	return &Replay{Dir: dir}
}

func (r *Replay) Attach(name string) (process.Process, error) {
	dump, err := process_blob.Load(r.Dir)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", process.ErrProcessNotFound, err)
	}
	return dump, nil
}

func (r *Replay) Detach(proc process.Process) error {
	if proc == nil {
		return nil
	}
	return proc.Close()
}
