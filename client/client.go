/*
	Runs persistgen as a subprocess and reads its plan back.

	Useful for installers that would rather not link the library, or that
	need to run persistgen inside the target's chroot.  Errors come back
	with the same categories the library would have raised.
*/
package client

import (
	"bytes"
	"context"
	"io"
	"os"
	"os/exec"
	"time"

	"github.com/polydawn/refmt"
	"github.com/polydawn/refmt/json"
	. "github.com/warpfork/go-errcat"

	"github.com/polydawn/persistgen"
	"github.com/polydawn/persistgen/api"
	"github.com/polydawn/persistgen/plan"
)

const DefaultBin = "persistgen"

type Client struct {
	Bin string // Executable to run; found on $PATH if not absolute.  Defaults to DefaultBin.
}

func (c Client) Plan(ctx context.Context, req Request) (*plan.Plan, error) {
	bin := c.Bin
	if bin == "" {
		bin = DefaultBin
	}

	// Spawn process.
	cmd := exec.Command(bin, PlanArgs(req)...)
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, Errorf(persistgen.ErrRPCBreakdown, "fork persistgen: failed to start: %s", err)
	}
	var stderrBuf bytes.Buffer
	cmd.Stderr = &stderrBuf
	if err = cmd.Start(); err != nil {
		return nil, Errorf(persistgen.ErrRPCBreakdown, "fork persistgen: failed to start: %s", err)
	}

	// Set up reaction to ctx.done: send a sig to the child proc.
	//  (The Process handle doesn't exist until after cmd.Start.)
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			cmd.Process.Signal(os.Interrupt)
			time.Sleep(100 * time.Millisecond)
			cmd.Process.Signal(os.Kill)
		case <-done:
		}
	}()

	// Read the one result message.
	//  Unexpected EOF means something went wrong on the other side;
	//  the error from Wait will be more informative, with the stderr capture.
	var ev api.Event
	parseErr := refmt.NewUnmarshallerAtlased(json.DecodeOptions{}, stdout, api.Atlas).Unmarshal(&ev)
	io.Copy(io.Discard, stdout)

	// Wait for process complete.
	//  The exit code SHOULD be redundant with the message we SHOULD have
	//  already deserialized... but we check that it all matches up.
	code, err := waitFor(cmd)
	if err != nil {
		return nil, Errorf(persistgen.ErrRPCBreakdown, "fork persistgen: wait error: %s (stderr: %q)", err, stderrBuf.String())
	}
	if code == 0 {
		if parseErr != nil && parseErr != io.EOF {
			return nil, Errorf(persistgen.ErrRPCBreakdown, "fork persistgen: API parse error: %s", parseErr)
		}
		// If the exit code was success, we'd sure better have gotten the rightly formatted result message.
		if ev.Result == nil || ev.Result.Plan == nil {
			return nil, Errorf(persistgen.ErrRPCBreakdown, "fork persistgen: exited zero, but no clear result?! (stderr: %q)", stderrBuf.String())
		}
		if ev.Result.Error != nil {
			return nil, Errorf(persistgen.ErrRPCBreakdown, "fork persistgen: exited zero, but result had error, category=%s: %s", ev.Result.Error.CategoryStr, ev.Result.Error)
		}
		return ev.Result.Plan, nil // This is the happy path return!
	}
	// For non-zero exits: Check match for sanity.
	//  A failed parse here just means the message is missing; the exit code still says plenty.
	exitCategory := persistgen.CategoryForExitCode(persistgen.ExitCode(code))
	if parseErr != nil || ev.Result == nil || ev.Result.Error == nil {
		return nil, Errorf(exitCategory, "no message available (stderr: %q)", stderrBuf.String())
	}
	if persistgen.ExitCodeFor(ev.Result.Error.Category()) != persistgen.ExitCode(code) {
		return nil, Errorf(exitCategory, "exit code %d does not match result category %s: %s", code, ev.Result.Error.CategoryStr, ev.Result.Error)
	}
	return nil, ev.Result.Error // This is the clean error path!
}
