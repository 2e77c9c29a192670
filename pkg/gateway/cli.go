package gateway

import (
	"errors"
	"fmt"
	"os/exec"
	"strconv"
	"strings"
	"time"
)

// CLIGateway binds the storage engine through its command-line tools
// (gfal-copy, gfal-rm, gfal-stat). Exit statuses are errno values, which
// is exactly the code space the adapter interprets.
type CLIGateway struct {
	// CopyBin, UnlinkBin and StatBin default to the gfal tool names.
	CopyBin   string
	UnlinkBin string
	StatBin   string
}

// NewCLIGateway creates a gateway over the default tool names
func NewCLIGateway() *CLIGateway {
	return &CLIGateway{
		CopyBin:   "gfal-copy",
		UnlinkBin: "gfal-rm",
		StatBin:   "gfal-stat",
	}
}

// NewContext implements Gateway. Every context maps to fresh process
// invocations, so in-flight operations share nothing.
func (g *CLIGateway) NewContext(opts ContextOptions) (Context, error) {
	return &cliContext{gw: g, opts: opts}, nil
}

type cliContext struct {
	gw   *CLIGateway
	opts ContextOptions
}

func (c *cliContext) run(bin string, args ...string) error {
	cmd := exec.Command(bin, args...)
	if c.opts.LogSink != nil {
		cmd.Stdout = c.opts.LogSink
		cmd.Stderr = c.opts.LogSink
	}

	err := cmd.Run()
	if err == nil {
		return nil
	}

	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return &Error{Code: exitErr.ExitCode(), Msg: fmt.Sprintf("%s exited with status %d", bin, exitErr.ExitCode())}
	}
	return fmt.Errorf("failed to run %s: %w", bin, err)
}

func (c *cliContext) Copy(src, dest string, params CopyParams) error {
	args := []string{}
	if c.opts.Verbosity != "" {
		args = append(args, "-v")
	}
	if params.CreateParents {
		args = append(args, "-p")
	}
	if params.Overwrite {
		args = append(args, "-f")
	}
	if params.Checksum != nil {
		spec := params.Checksum.Algorithm
		if params.Checksum.Value != "" {
			spec += ":" + params.Checksum.Value
		}
		args = append(args, "--checksum", strings.ToUpper(spec))
	}
	if params.Timeout > 0 {
		args = append(args, "-t", strconv.Itoa(int(params.Timeout/time.Second)))
	}
	args = append(args, src, dest)
	return c.run(c.gw.CopyBin, args...)
}

func (c *cliContext) Unlink(target string) error {
	return c.run(c.gw.UnlinkBin, target)
}

func (c *cliContext) Stat(url string) (StatInfo, error) {
	cmd := exec.Command(c.gw.StatBin, url)
	out, err := cmd.CombinedOutput()
	if c.opts.LogSink != nil {
		_, _ = c.opts.LogSink.Write(out)
	}
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return StatInfo{}, &Error{Code: exitErr.ExitCode(), Msg: "stat failed"}
		}
		return StatInfo{}, fmt.Errorf("failed to run %s: %w", c.gw.StatBin, err)
	}
	return StatInfo{Size: parseStatSize(out)}, nil
}

func (c *cliContext) Close() error { return nil }

// parseStatSize pulls the size field out of gfal-stat output; zero when
// the format is unexpected.
func parseStatSize(out []byte) int64 {
	for _, line := range strings.Split(string(out), "\n") {
		line = strings.TrimSpace(line)
		if !strings.HasPrefix(line, "Size:") {
			continue
		}
		fields := strings.Fields(strings.TrimPrefix(line, "Size:"))
		if len(fields) == 0 {
			continue
		}
		size, err := strconv.ParseInt(fields[0], 10, 64)
		if err == nil {
			return size
		}
	}
	return 0
}
