package tui

import (
	"fmt"

	"sponsorcoin/pkg/reconcile"
	"sponsorcoin/pkg/store"

	tea "github.com/charmbracelet/bubbletea"
)

func Start(st *store.Store, ctrl *reconcile.Controller, version string) error {
	Version = version
	p := tea.NewProgram(
		initialModel(st, ctrl),
		tea.WithAltScreen(),
	)

	if _, err := p.Run(); err != nil {
		return fmt.Errorf("alas, there's been an error: %w", err)
	}
	return nil
}
