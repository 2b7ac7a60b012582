//go:build !unix && !windows

package sandbox

import (
	"errors"
	"os"
	"os/exec"
	"time"
)

// directProcess only reaches the immediate child; descendants are not tracked
// on platforms without process groups or job objects.
type directProcess struct {
	p *os.Process
}

func newProcessTree() processTree {
	return &directProcess{}
}

func (d *directProcess) prepare(*exec.Cmd) {}

func (d *directProcess) attach(p *os.Process) error {
	d.p = p
	return nil
}

func (d *directProcess) kill(time.Duration) error {
	if d.p == nil {
		return nil
	}
	if err := d.p.Kill(); err != nil && !errors.Is(err, os.ErrProcessDone) {
		return err
	}
	return nil
}

func (d *directProcess) release() {}
