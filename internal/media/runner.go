package media

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"ai-things/audio-go/internal/utils"
)

// Result is what a finished subprocess left behind.
type Result struct {
	Stdout   string
	Stderr   string
	ExitCode int
}

// Runner executes an external binary. The pipeline only talks to ffmpeg/ffprobe through it,
// so tests and alternative codec backends can replace the process boundary.
type Runner interface {
	Run(ctx context.Context, name string, args ...string) (Result, error)
}

// ExecRunner runs binaries with os/exec. A non-zero exit is reported in Result.ExitCode,
// not as an error; the error is reserved for failing to start or timing out.
type ExecRunner struct {
	Timeout time.Duration
}

func (r ExecRunner) Run(ctx context.Context, name string, args ...string) (Result, error) {
	timeout := r.Timeout
	if timeout <= 0 {
		timeout = 2 * time.Hour
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	utils.Logf("run: %s %s", name, strings.Join(args, " "))

	cmd := exec.CommandContext(ctx, name, args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	res := Result{Stdout: stdout.String(), Stderr: stderr.String()}
	if utils.Verbose && stderr.Len() > 0 {
		utils.Logf("stderr:\n%s", strings.TrimRight(res.Stderr, "\n"))
	}
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) && ctx.Err() == nil {
			res.ExitCode = exitErr.ExitCode()
			return res, nil
		}
		return res, fmt.Errorf("run %s: %w", name, err)
	}
	return res, nil
}
