package webcheck

import (
	"bytes"
	"context"
	"encoding/json"
	"os/exec"
	"strings"
	"time"

	"github.com/use-agent/balancewatch/models"
	"github.com/use-agent/balancewatch/probe"
)

// HookConfig describes an external command that performs the web check
// instead of the built-in browser flow.
type HookConfig struct {
	Command string
	Args    []string

	// Timeout bounds the command run. Clamped to >= 5s.
	Timeout time.Duration
}

// Hook runs an operator-supplied command as the slow acquisition path. The
// placeholders {username}, {password} and {api_key} in Args are substituted
// per account.
type Hook struct {
	cfg HookConfig
}

// NewHook builds a Hook for cfg.
func NewHook(cfg HookConfig) *Hook {
	if cfg.Timeout < 5*time.Second {
		cfg.Timeout = 5 * time.Second
	}
	return &Hook{cfg: cfg}
}

// RunOnce executes the hook command for the account and interprets its
// stdout: a JSON object {success, balance, message} is taken verbatim, any
// other non-empty text is scanned for a leading number, and empty output
// counts as a success without a balance.
func (h *Hook) RunOnce(ctx context.Context, acct models.Account) Result {
	runCtx, cancel := context.WithTimeout(ctx, h.cfg.Timeout)
	defer cancel()

	cmd := exec.CommandContext(runCtx, strings.TrimSpace(h.cfg.Command), substituteArgs(h.cfg.Args, acct)...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if runCtx.Err() == context.DeadlineExceeded {
			return failf("web hook timed out after %s", h.cfg.Timeout)
		}
		return failf("web hook failed: %v, stderr: %s", err, strings.TrimSpace(stderr.String()))
	}

	return parseHookOutput(strings.TrimSpace(stdout.String()))
}

func substituteArgs(args []string, acct models.Account) []string {
	out := make([]string, len(args))
	for i, raw := range args {
		arg := strings.ReplaceAll(raw, "{username}", acct.Username)
		arg = strings.ReplaceAll(arg, "{password}", acct.Password)
		arg = strings.ReplaceAll(arg, "{api_key}", acct.APIKey)
		out[i] = arg
	}
	return out
}

type hookJSONResult struct {
	Success bool     `json:"success"`
	Balance *float64 `json:"balance"`
	Message string   `json:"message"`
}

func parseHookOutput(stdout string) Result {
	if stdout == "" {
		return Result{Success: true, Message: "web hook succeeded without a balance"}
	}

	var parsed hookJSONResult
	if err := json.Unmarshal([]byte(stdout), &parsed); err == nil {
		message := parsed.Message
		if message == "" {
			message = "web hook returned JSON"
		}
		return Result{Success: parsed.Success, Balance: parsed.Balance, Message: message}
	}

	result := Result{Success: true, Message: "web hook returned text"}
	if v, ok := probe.ParseFirstNumber(stdout); ok {
		result.Balance = &v
	}
	return result
}
