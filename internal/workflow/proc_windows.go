//go:build windows

package workflow

import (
	"context"
	"os/exec"
	"time"
)

func shellCommand(ctx context.Context, line string) *exec.Cmd {
	cmd := exec.CommandContext(ctx, "cmd.exe", "/C", line)
	cmd.WaitDelay = 2 * time.Second
	return cmd
}
