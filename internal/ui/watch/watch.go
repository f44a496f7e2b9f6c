package watch

import (
	"context"
	"errors"
	"io"

	tea "charm.land/bubbletea/v2"

	"github.com/agent462/sweep/internal/executor"
)

// Observer forwards Task events to a running program.
func Observer(p *tea.Program) executor.Observer {
	return func(ev executor.TaskEvent) {
		p.Send(EventMsg(ev))
	}
}

// Run shows the watch view on out while run executes. run receives the
// observer to install on its executor and returns the summary line shown
// when it finishes. Pressing q cancels the context passed to run; the view
// stays up until run returns.
func Run(ctx context.Context, out io.Writer, hosts []string, run func(ctx context.Context, obs executor.Observer) (string, error)) error {
	return runProgram(ctx, nil, out, hosts, run)
}

func runProgram(ctx context.Context, in io.Reader, out io.Writer, hosts []string, run func(ctx context.Context, obs executor.Observer) (string, error)) error {
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	opts := []tea.ProgramOption{tea.WithOutput(out), tea.WithContext(ctx)}
	if in != nil {
		opts = append(opts, tea.WithInput(in))
	}
	p := tea.NewProgram(New(hosts, cancel), opts...)

	runErr := make(chan error, 1)
	go func() {
		summary, err := run(runCtx, Observer(p))
		p.Send(DoneMsg{Summary: summary, Err: err})
		runErr <- err
	}()

	if _, err := p.Run(); err != nil && !errors.Is(err, tea.ErrProgramKilled) {
		cancel()
		<-runErr
		return err
	}
	return <-runErr
}
