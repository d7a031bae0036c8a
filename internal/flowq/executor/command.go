package executor

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/ehsaniara/flowq/internal/flowq/dispatch"
	"github.com/ehsaniara/flowq/pkg/errors"
	"github.com/ehsaniara/flowq/pkg/logger"
)

// Step metadata keys read by CommandExecutor
const (
	MetaCommand = "command"
	MetaDir     = "dir"
	MetaEnv     = "env"
)

const (
	maxErrorOutput = 512
	// bounds how long Run waits for children still holding the output pipe
	waitDelay = 500 * time.Millisecond
)

// CommandExecutor runs metadata.command through `sh -c`. The process is
// killed when ctx is done.
type CommandExecutor struct {
	Shell  string
	Output io.Writer

	outMu  sync.Mutex
	logger *logger.Logger
}

func NewCommandExecutor(output io.Writer) *CommandExecutor {
	return &CommandExecutor{
		Shell:  "/bin/sh",
		Output: output,
		logger: logger.WithField("component", "command-executor"),
	}
}

func (c *CommandExecutor) Execute(ctx context.Context, req dispatch.StepRequest) error {
	command, _ := req.Metadata[MetaCommand].(string)
	if strings.TrimSpace(command) == "" {
		return errors.NewValidationError("steps."+req.StepName+".metadata.command", "is required")
	}

	cmd := exec.CommandContext(ctx, c.Shell, "-c", command)
	cmd.WaitDelay = waitDelay
	if dir, ok := req.Metadata[MetaDir].(string); ok && dir != "" {
		cmd.Dir = dir
	}
	cmd.Env = append(os.Environ(), stepEnv(req)...)

	var combined bytes.Buffer
	cmd.Stdout = &combined
	cmd.Stderr = &combined

	c.logger.Debug("running step command", "itemId", req.ItemID, "step", req.StepName, "attempt", req.Attempt)
	req.ReportProgress(0)
	runErr := cmd.Run()
	c.flush(req.StepName, combined.Bytes())

	if runErr != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return fmt.Errorf("command interrupted: %w", ctxErr)
		}
		return fmt.Errorf("command failed: %w: %s", runErr, tail(combined.String(), maxErrorOutput))
	}

	req.ReportProgress(100)
	return nil
}

func (c *CommandExecutor) flush(step string, out []byte) {
	if c.Output == nil || len(out) == 0 {
		return
	}
	c.outMu.Lock()
	defer c.outMu.Unlock()
	for _, line := range strings.Split(strings.TrimRight(string(out), "\n"), "\n") {
		fmt.Fprintf(c.Output, "[%s] %s\n", step, line)
	}
}

// stepEnv exposes the step identity plus metadata.env to the command
func stepEnv(req dispatch.StepRequest) []string {
	env := []string{
		"FLOWQ_PROJECT_ID=" + req.ProjectID,
		"FLOWQ_ITEM_ID=" + req.ItemID,
		"FLOWQ_STEP_ID=" + req.StepID,
		"FLOWQ_STEP_NAME=" + req.StepName,
		fmt.Sprintf("FLOWQ_ATTEMPT=%d", req.Attempt),
	}

	extra, ok := req.Metadata[MetaEnv].(map[string]any)
	if !ok {
		return env
	}
	keys := make([]string, 0, len(extra))
	for k := range extra {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		env = append(env, fmt.Sprintf("%s=%v", k, extra[k]))
	}
	return env
}

func tail(s string, n int) string {
	s = strings.TrimSpace(s)
	if len(s) <= n {
		return s
	}
	return "..." + s[len(s)-n:]
}
