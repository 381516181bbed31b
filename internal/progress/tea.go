package progress

import (
	"context"
	"io"
	"sync"
	"time"

	tea "github.com/charmbracelet/bubbletea"
)

type tickMsg struct{}
type stopMsg struct{}

type transferTeaModel struct {
	viewFn      func() View
	onInterrupt func()
	view        View
}

func (m transferTeaModel) Init() tea.Cmd {
	return nil
}

func (m transferTeaModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		if msg.Type == tea.KeyCtrlC {
			if m.onInterrupt != nil {
				m.onInterrupt()
			}
			return m, nil
		}
	case tickMsg:
		m.view = m.viewFn()
		return m, nil
	case stopMsg:
		m.view = m.viewFn()
		return m, tea.Quit
	}
	return m, nil
}

func (m transferTeaModel) View() string {
	return renderTTY(m.view)
}

func renderTea(ctx context.Context, w io.Writer, view func() View, onInterrupt func()) func() {
	model := transferTeaModel{viewFn: view, onInterrupt: onInterrupt, view: view()}
	program := tea.NewProgram(model, tea.WithOutput(w))
	finished := make(chan struct{})
	go func() {
		defer close(finished)
		_, _ = program.Run()
	}()
	ticker := time.NewTicker(250 * time.Millisecond)
	stop := make(chan struct{})
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				program.Send(stopMsg{})
				return
			case <-stop:
				return
			case <-ticker.C:
				program.Send(tickMsg{})
			}
		}
	}()
	var once sync.Once
	return func() {
		once.Do(func() {
			close(stop)
			program.Send(stopMsg{})
			<-finished
		})
	}
}
