package tui

import (
	"context"
	"fmt"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/nanoframework/nf-debugger-sub001/internal/deploy"
)

// RunWatch shows the live device list until the user quits.
func RunWatch(ctx context.Context, src DeviceSource) error {
	p := tea.NewProgram(NewWatchModel(ctx, src), tea.WithAltScreen(), tea.WithContext(ctx))
	if _, err := p.Run(); err != nil {
		return fmt.Errorf("running device view: %w", err)
	}
	return nil
}

// RunDeploy runs fn while rendering its progress. fn receives the
// callback to pass to deploy.WithProgress.
func RunDeploy(ctx context.Context, title string, fn func(progress func(deploy.Progress)) (*deploy.Result, error)) (*deploy.Result, error) {
	p := tea.NewProgram(NewDeployModel(title), tea.WithContext(ctx))

	go func() {
		res, err := fn(func(pr deploy.Progress) { p.Send(deployProgressMsg(pr)) })
		p.Send(deployDoneMsg{result: res, err: err})
	}()

	final, err := p.Run()
	if err != nil {
		return nil, fmt.Errorf("running deploy view: %w", err)
	}
	return final.(DeployModel).Result()
}
