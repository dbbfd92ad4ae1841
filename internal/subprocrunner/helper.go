package subprocrunner

import (
	"bufio"
	"context"
	"io"
	"os/exec"
	"strings"

	"github.com/creack/pty"
	"github.com/starrealm/hoststar/internal/protocol"
)

// Serve runs the helper side of the protocol: read one RUN request,
// execute it, write back its stdout and exit code, repeat until in is
// closed. This is the body of the cmd/runner binary.
func Serve(ctx context.Context, in io.Reader, out io.Writer) error {
	r := bufio.NewReader(in)
	for {
		req, err := protocol.ReadRequest(r)
		if err != nil {
			if err == io.EOF {
				return nil
			}
			return err
		}
		if req.Verb != "RUN" || len(req.Args) < 2 {
			protocol.WriteResponse(out, protocol.Error("ERR", "expected RUN command dir [args...]"))
			continue
		}

		command, dir, args := req.Args[0], req.Args[1], req.Args[2:]
		stdout, exitCode := runOne(ctx, command, args, dir)
		reply := protocol.Array(protocol.String(stdout), protocol.Integer(int64(exitCode)))
		if err := protocol.WriteResponse(out, reply); err != nil {
			return err
		}
	}
}

// runOne runs command under a pseudo-terminal so its stdout streams
// unbuffered (engine binaries block-buffer when stdout isn't a tty),
// matching the teacher's PTYManager's reason for allocating one.
func runOne(ctx context.Context, command string, args []string, dir string) (string, int) {
	cmd := exec.CommandContext(ctx, command, args...)
	if dir != "" {
		cmd.Dir = dir
	}

	f, err := pty.Start(cmd)
	if err != nil {
		return err.Error(), -1
	}
	defer f.Close()

	var sb strings.Builder
	io.Copy(&sb, f)
	// The terminal's output processing turns "\n" into "\r\n"; undo that
	// so callers see the child's stdout as written.
	stdout := strings.ReplaceAll(sb.String(), "\r\n", "\n")

	err = cmd.Wait()
	if err == nil {
		return stdout, 0
	}
	if exitErr, ok := err.(*exec.ExitError); ok {
		return stdout, exitErr.ExitCode()
	}
	return stdout + "\n" + err.Error(), -1
}
