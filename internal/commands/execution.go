package commands

import (
	"context"
	"fmt"
	"io"

	"github.com/nanoframework/nf-debugger-sub001/internal/engine"
)

// ExecState prints the execution conditions.
func ExecState(ctx context.Context, w io.Writer, e *engine.Engine) error {
	cond, err := e.ExecutionMode(ctx)
	if err != nil {
		return err
	}
	fmt.Fprintf(w, "0x%08X %s\n", cond, engine.DescribeExecution(cond))
	return nil
}

// ExecPause stops the managed application.
func ExecPause(ctx context.Context, w io.Writer, e *engine.Engine) error {
	if err := e.PauseExecution(ctx); err != nil {
		return err
	}
	fmt.Fprintln(w, "Execution paused.")
	return nil
}

// ExecResume lets the managed application continue.
func ExecResume(ctx context.Context, w io.Writer, e *engine.Engine) error {
	if err := e.ResumeExecution(ctx); err != nil {
		return err
	}
	fmt.Fprintln(w, "Execution resumed.")
	return nil
}

// Threads lists managed threads, with their call stacks when stacks is set.
func Threads(ctx context.Context, w io.Writer, e *engine.Engine, stacks bool) error {
	pids, err := e.Threads(ctx)
	if err != nil {
		return err
	}
	if len(pids) == 0 {
		fmt.Fprintln(w, "No managed threads.")
		return nil
	}
	for _, pid := range pids {
		fmt.Fprintf(w, "Thread %d\n", pid)
		if !stacks {
			continue
		}
		frames, err := e.ThreadStack(ctx, pid)
		if err != nil {
			fmt.Fprintf(w, "  stack unavailable: %v\n", err)
			continue
		}
		for i, f := range frames {
			fmt.Fprintf(w, "  #%-2d method 0x%08X  ip 0x%04X\n", i, f.Method, f.IP)
		}
	}
	return nil
}

// Assemblies lists the assemblies loaded by the CLR.
func Assemblies(ctx context.Context, w io.Writer, e *engine.Engine) error {
	asms, err := e.ResolveAllAssemblies(ctx)
	if err != nil {
		return err
	}
	tw := table(w)
	fmt.Fprintln(tw, "INDEX\tNAME\tVERSION")
	for _, a := range asms {
		fmt.Fprintf(tw, "%d\t%s\t%s\n", a.Index, a.Name, a.Version)
	}
	return tw.Flush()
}
