package process

import (
	"context"
	"io"
	"os"
	"os/exec"

	pkgerrors "github.com/pkg/errors"
)

// Child-side file descriptors for the inherited pipe ends. The first extra
// file an exec'd child inherits is fd 3.
const (
	fdWorkflowRead = 3 + iota
	fdWorkflowWrite
	fdCanvasRead
	fdCanvasWrite
)

// pipePair glues one read end and one write end into a bidirectional port.
type pipePair struct {
	r *os.File
	w *os.File
}

func (p *pipePair) Read(b []byte) (int, error)  { return p.r.Read(b) }
func (p *pipePair) Write(b []byte) (int, error) { return p.w.Write(b) }

func (p *pipePair) Close() error {
	rerr := p.r.Close()
	werr := p.w.Close()
	if rerr != nil {
		return rerr
	}
	return werr
}

// Child is a spawned worker process and the parent-side ends of its two
// pipes.
type Child struct {
	cmd *exec.Cmd

	// Workflow is the parent end of the workflow message pipe.
	Workflow io.ReadWriteCloser

	// Canvas is the parent end of the canvas pipe.
	Canvas io.ReadWriteCloser
}

// Spawn starts the worker process with four inherited pipe ends on fds 3
// through 6: workflow read, workflow write, canvas read, canvas write. The
// worker recovers them with ChildPorts. Extra env entries are appended to
// the parent's environment.
func Spawn(ctx context.Context, name string, args []string, env ...string) (*Child, error) {
	wfParentR, wfChildW, err := os.Pipe()
	if err != nil {
		return nil, pkgerrors.Wrap(err, "process: workflow pipe")
	}
	wfChildR, wfParentW, err := os.Pipe()
	if err != nil {
		return nil, pkgerrors.Wrap(err, "process: workflow pipe")
	}
	cvParentR, cvChildW, err := os.Pipe()
	if err != nil {
		return nil, pkgerrors.Wrap(err, "process: canvas pipe")
	}
	cvChildR, cvParentW, err := os.Pipe()
	if err != nil {
		return nil, pkgerrors.Wrap(err, "process: canvas pipe")
	}

	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	cmd.Env = append(os.Environ(), env...)
	cmd.ExtraFiles = []*os.File{wfChildR, wfChildW, cvChildR, cvChildW}

	if err := cmd.Start(); err != nil {
		return nil, pkgerrors.Wrapf(err, "process: start %s", name)
	}

	// The child holds its own copies now; keeping these open in the parent
	// would stop EOF from ever reaching the channels.
	wfChildR.Close()
	wfChildW.Close()
	cvChildR.Close()
	cvChildW.Close()

	return &Child{
		cmd:      cmd,
		Workflow: &pipePair{r: wfParentR, w: wfParentW},
		Canvas:   &pipePair{r: cvParentR, w: cvParentW},
	}, nil
}

// Wait blocks until the worker exits.
func (c *Child) Wait() error {
	return c.cmd.Wait()
}

// Kill force-terminates the worker. Prefer a workflow shutdown message.
func (c *Child) Kill() error {
	return c.cmd.Process.Kill()
}

// ChildPorts recovers the pipe ends inside the worker process.
func ChildPorts() (workflow, canvas io.ReadWriteCloser) {
	workflow = &pipePair{
		r: os.NewFile(fdWorkflowRead, "workflow-read"),
		w: os.NewFile(fdWorkflowWrite, "workflow-write"),
	}
	canvas = &pipePair{
		r: os.NewFile(fdCanvasRead, "canvas-read"),
		w: os.NewFile(fdCanvasWrite, "canvas-write"),
	}
	return workflow, canvas
}
