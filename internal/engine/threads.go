package engine

import (
	"context"
	"fmt"

	"github.com/nanoframework/nf-debugger-sub001/internal/protocol"
)

// Threads returns the ids of the managed threads.
func (e *Engine) Threads(ctx context.Context) ([]uint32, error) {
	if e.Source() != SourceNanoCLR {
		return nil, ErrNotRuntime
	}
	reply, err := request[*protocol.IndexList](ctx, e, protocol.CmdThreadList, nil, e.defaultCall())
	if err != nil {
		return nil, err
	}
	return reply.Items, nil
}

// ThreadStack returns the call frames of one thread, innermost first.
func (e *Engine) ThreadStack(ctx context.Context, pid uint32) ([]protocol.StackFrame, error) {
	reply, err := request[*protocol.ThreadStackReply](ctx, e, protocol.CmdThreadStack, &protocol.ThreadID{PID: pid}, e.defaultCall())
	if err != nil {
		return nil, err
	}
	return reply.Frames, nil
}

// SuspendThread suspends one thread.
func (e *Engine) SuspendThread(ctx context.Context, pid uint32) error {
	_, err := e.roundTrip(ctx, protocol.CmdThreadSuspend, &protocol.ThreadID{PID: pid}, e.defaultCall())
	return err
}

// ResumeThread resumes one thread.
func (e *Engine) ResumeThread(ctx context.Context, pid uint32) error {
	_, err := e.roundTrip(ctx, protocol.CmdThreadResume, &protocol.ThreadID{PID: pid}, e.defaultCall())
	return err
}

// KillThread aborts one thread.
func (e *Engine) KillThread(ctx context.Context, pid uint32) error {
	reply, err := request[*protocol.ErrorCodeReply](ctx, e, protocol.CmdThreadKill, &protocol.ThreadID{PID: pid}, e.defaultCall())
	if err != nil {
		return err
	}
	// Thread_Kill answers with a non-zero result on success.
	if reply.ErrorCode == 0 {
		return fmt.Errorf("kill thread %d: target refused", pid)
	}
	return nil
}
