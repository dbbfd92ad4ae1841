package subprocrunner

import (
	"bufio"
	"context"
	"io"
	"testing"

	"github.com/starrealm/hoststar/internal/protocol"
)

// pipeEndpoints wires a Client directly to an in-process Serve loop
// over io.Pipes, so the helper protocol can be exercised without
// spawning a real subprocess.
func pipeEndpoints(t *testing.T) *Client {
	t.Helper()
	clientReadsFromHelper, helperWritesToClient := io.Pipe()
	helperReadsFromClient, clientWritesToHelper := io.Pipe()

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	go Serve(ctx, helperReadsFromClient, helperWritesToClient)

	return &Client{
		stdin:  clientWritesToHelper,
		stdout: bufio.NewReader(clientReadsFromHelper),
	}
}

func TestRunEchoesStdoutAndExitCode(t *testing.T) {
	c := pipeEndpoints(t)
	ctx := context.Background()

	res, err := c.Run(ctx, "echo", []string{"hello"}, "")
	if err != nil {
		t.Fatal(err)
	}
	if res.ExitCode != 0 {
		t.Fatalf("got exit code %d", res.ExitCode)
	}
	if res.Stdout != "hello\n" {
		t.Fatalf("got stdout %q", res.Stdout)
	}
}

func TestRunCapturesNonZeroExitCode(t *testing.T) {
	c := pipeEndpoints(t)
	ctx := context.Background()

	res, err := c.Run(ctx, "sh", []string{"-c", "exit 3"}, "")
	if err != nil {
		t.Fatal(err)
	}
	if res.ExitCode != 3 {
		t.Fatalf("got exit code %d", res.ExitCode)
	}
}

func TestTurnCheckerAdaptsRun(t *testing.T) {
	c := pipeEndpoints(t)
	checker := TurnChecker{Client: c, CheckerPath: "echo"}

	stdout, exitCode, err := checker.Check(context.Background(), "turn.trn")
	if err != nil {
		t.Fatal(err)
	}
	if exitCode != 0 || stdout != "turn.trn\n" {
		t.Fatalf("got stdout=%q exitCode=%d", stdout, exitCode)
	}
}

func TestProtocolRequestRoundTrip(t *testing.T) {
	r, w := io.Pipe()
	go func() {
		protocol.WriteRequest(w, "run", []string{"a", "b"})
		w.Close()
	}()

	req, err := protocol.ReadRequest(bufio.NewReader(r))
	if err != nil {
		t.Fatal(err)
	}
	if req.Verb != "RUN" || len(req.Args) != 2 || req.Args[0] != "a" || req.Args[1] != "b" {
		t.Fatalf("got %+v", req)
	}
}

func TestProtocolValueRoundTrip(t *testing.T) {
	r, w := io.Pipe()
	go func() {
		protocol.WriteResponse(w, protocol.Array(protocol.String("out"), protocol.Integer(2)))
		w.Close()
	}()

	v, err := protocol.ReadValue(bufio.NewReader(r))
	if err != nil {
		t.Fatal(err)
	}
	items := v.Items()
	if len(items) != 2 || items[0].Str() != "out" || items[1].Int() != 2 {
		t.Fatalf("got %v", v)
	}
}
