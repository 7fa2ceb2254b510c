package engine

import (
	"context"
	"strings"

	"github.com/nanoframework/nf-debugger-sub001/internal/protocol"
)

// ChangeExecution sets and clears execution condition bits and returns the
// resulting conditions. Only nanoCLR understands it.
func (e *Engine) ChangeExecution(ctx context.Context, set, reset uint32) (uint32, error) {
	if e.Source() != SourceNanoCLR {
		return 0, ErrNotRuntime
	}
	reply, err := request[*protocol.ChangeConditionsReply](ctx, e, protocol.CmdExecutionChangeConditions,
		&protocol.ChangeConditions{Set: set, Reset: reset}, e.defaultCall())
	if err != nil {
		return 0, err
	}
	return reply.Current, nil
}

// ExecutionMode returns the current execution conditions without changing them.
func (e *Engine) ExecutionMode(ctx context.Context) (uint32, error) {
	return e.ChangeExecution(ctx, 0, 0)
}

// PauseExecution stops the managed application.
func (e *Engine) PauseExecution(ctx context.Context) error {
	_, err := e.ChangeExecution(ctx, protocol.ExecutionStopped, 0)
	return err
}

// ResumeExecution lets a paused application continue.
func (e *Engine) ResumeExecution(ctx context.Context) error {
	_, err := e.ChangeExecution(ctx, 0, protocol.ExecutionStopped)
	return err
}

// DescribeExecution renders execution condition bits for humans.
func DescribeExecution(cond uint32) string {
	var parts []string
	switch {
	case cond&protocol.ExecutionStopped != 0:
		parts = append(parts, "stopped")
	case cond&protocol.ExecutionProgramExited != 0:
		parts = append(parts, "exited")
	case cond&protocol.ExecutionProgramRunning != 0:
		parts = append(parts, "running")
	default:
		parts = append(parts, "initializing")
	}
	if cond&protocol.ExecutionPauseTimers != 0 {
		parts = append(parts, "timers paused")
	}
	if cond&protocol.ExecutionDebuggerEnabled != 0 {
		parts = append(parts, "debugger enabled")
	}
	if cond&protocol.ExecutionResolutionFailed != 0 {
		parts = append(parts, "resolution failed")
	}
	return strings.Join(parts, ", ")
}
