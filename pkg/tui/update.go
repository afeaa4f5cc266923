package tui

import (
	"fmt"
	"time"

	"sponsorcoin/pkg/store"

	"github.com/atotto/clipboard"
	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
)

func clearStatusAfter(d time.Duration) tea.Cmd {
	return tea.Tick(d, func(t time.Time) tea.Msg { return clearStatusMsg{} })
}

func (m model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmds []tea.Cmd

	switch msg := msg.(type) {
	case store.Change:
		m.state = msg.State
		m.lastReason = msg.Reason
		m.lastUpdate = time.Now()
		if rows := panelRows(m.state.Settings.PanelTree); m.cursor >= len(rows) {
			m.cursor = len(rows) - 1
		}
		cmds = append(cmds, listenForStore(m.sub))

	case clearStatusMsg:
		m.statusMessage = ""

	case uiTickMsg:
		cmds = append(cmds, tea.Tick(time.Second, func(t time.Time) tea.Msg { return uiTickMsg(t) }))

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		cmds = append(cmds, cmd)

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height

	case tea.KeyMsg:
		if m.showHelp {
			switch msg.String() {
			case "q", "esc", "?", "ctrl+c":
				m.showHelp = false
			}
			return m, nil
		}
		return m.handleKey(msg)
	}

	return m, tea.Batch(cmds...)
}

func (m model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	rows := panelRows(m.state.Settings.PanelTree)

	switch msg.String() {
	case "q", "ctrl+c":
		m.store.Unsubscribe(m.sub)
		return m, tea.Quit

	case "?":
		m.showHelp = true

	case "up", "k":
		if m.cursor > 0 {
			m.cursor--
		}

	case "down", "j":
		if m.cursor < len(rows)-1 {
			m.cursor++
		}

	case "enter", " ":
		if m.cursor < len(rows) {
			if _, err := m.store.TogglePanel(rows[m.cursor].ID); err != nil {
				m.statusMessage = err.Error()
			}
		}

	case "o":
		if m.cursor < len(rows) {
			id := rows[m.cursor].ID
			group := groupFor(id)
			if group == nil {
				_, err := m.store.OpenPanel(id)
				if err != nil {
					m.statusMessage = err.Error()
				}
				break
			}
			if _, err := m.store.OpenOnlyPanel(id, group); err != nil {
				m.statusMessage = err.Error()
			}
		}

	case "n":
		next := nextNetwork(m.store.Table().IDs(), m.state.Network.AppChainID)
		if err := m.controller.SetAppNetwork(next); err != nil {
			m.statusMessage = err.Error()
		} else {
			m.statusMessage = fmt.Sprintf("Switching app network to %d", next)
		}
		return m, clearStatusAfter(2 * time.Second)

	case "d":
		if m.store.DismissError() {
			m.statusMessage = "Error dismissed"
			return m, clearStatusAfter(2 * time.Second)
		}

	case "c":
		acc := m.state.Accounts.ActiveAccount
		if acc == nil {
			m.statusMessage = "No active account"
		} else if err := clipboard.WriteAll(acc.Address); err != nil {
			m.statusMessage = "Failed to copy to clipboard"
		} else {
			m.statusMessage = "Active address copied to clipboard!"
		}
		return m, clearStatusAfter(2 * time.Second)

	case "w":
		url := m.state.Network.URL
		if acc := m.state.Accounts.ActiveAccount; acc != nil && acc.Website != "" {
			url = acc.Website
		}
		if url == "" {
			m.statusMessage = "Nothing to open"
		} else if err := openBrowser(url); err != nil {
			m.statusMessage = "Failed to open browser"
		}
		return m, clearStatusAfter(2 * time.Second)

	case "p":
		m.privacyMode = !m.privacyMode
	}
	return m, nil
}
