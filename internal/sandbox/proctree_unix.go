//go:build unix

package sandbox

import (
	"errors"
	"os"
	"os/exec"
	"syscall"
	"time"

	"golang.org/x/sys/unix"
)

// groupPollInterval is how often kill re-checks that the group is gone.
const groupPollInterval = 10 * time.Millisecond

// processGroup kills the child and its descendants through a dedicated
// POSIX process group whose id equals the child's pid.
type processGroup struct {
	pgid int
}

func newProcessTree() processTree {
	return &processGroup{}
}

func (g *processGroup) prepare(cmd *exec.Cmd) {
	if cmd.SysProcAttr == nil {
		cmd.SysProcAttr = &syscall.SysProcAttr{}
	}
	cmd.SysProcAttr.Setpgid = true
}

func (g *processGroup) attach(p *os.Process) error {
	g.pgid = p.Pid
	return nil
}

// kill sends SIGKILL to the whole group and waits up to grace for every
// member to disappear.
func (g *processGroup) kill(grace time.Duration) error {
	if g.pgid <= 0 {
		return nil
	}
	if err := unix.Kill(-g.pgid, unix.SIGKILL); err != nil {
		if errors.Is(err, unix.ESRCH) {
			return nil
		}
		return err
	}

	deadline := time.Now().Add(grace)
	for time.Now().Before(deadline) {
		if !groupAlive(g.pgid) {
			return nil
		}
		time.Sleep(groupPollInterval)
	}
	return nil
}

// groupSignalable reports whether any process, zombies included, is in
// group pgid.
func groupSignalable(pgid int) bool {
	return !errors.Is(unix.Kill(-pgid, 0), unix.ESRCH)
}

func (g *processGroup) release() {}
