package tui

import (
	"fmt"
	"strings"

	"sponsorcoin/pkg/models"
	"sponsorcoin/pkg/utils"

	"github.com/charmbracelet/lipgloss"
)

func (m model) View() string {
	if m.showHelp {
		return m.viewHelp()
	}

	sections := []string{
		m.viewHeader(),
		lipgloss.JoinHorizontal(lipgloss.Top,
			boxStyle.Render(m.viewAccounts()),
			boxStyle.Render(m.viewPanels()),
		),
		boxStyle.Render(m.viewTrade()),
	}
	if e := m.state.ErrorMessage; e != nil {
		sections = append(sections, boxStyle.BorderForeground(lipgloss.Color("#FF0000")).Render(
			errStyle.Render(e.Name)+"\n"+utils.TruncateString(e.Message, 100),
		))
	}
	sections = append(sections, m.viewFooter())
	return lipgloss.JoinVertical(lipgloss.Left, sections...)
}

func (m model) viewHeader() string {
	n := m.state.Network
	title := titleStyle.Render(fmt.Sprintf("SponsorCoin %s", Version))

	var wallet string
	switch {
	case !n.Connected:
		wallet = subtleStyle.Render("wallet disconnected")
	case n.ChainID != n.AppChainID:
		wallet = warnStyle.Render(fmt.Sprintf("wallet on %d", n.ChainID))
	default:
		wallet = infoStyle.Render(fmt.Sprintf("wallet on %d", n.ChainID))
	}
	network := fmt.Sprintf("%s (%s, %d)", n.Name, n.Symbol, n.AppChainID)
	return lipgloss.JoinHorizontal(lipgloss.Center, title, "  ", network, "  ", wallet)
}

func statusStyle(s models.AccountStatus) lipgloss.Style {
	switch s {
	case models.StatusOK:
		return infoStyle
	case models.StatusInfo:
		return warnStyle
	default:
		return errStyle
	}
}

func (m model) viewAccounts() string {
	lines := []string{tableHeaderStyle.Render(fmt.Sprintf("%-12s %-14s %-16s %-6s %s", "Role", "Address", "Name", "Status", "Balance"))}
	for _, row := range accountRows(m.state.Accounts) {
		if row.Account == nil {
			if row.Role == "Active" && m.state.Network.Connected {
				lines = append(lines, fmt.Sprintf(" %-12s %s hydrating", row.Role, m.spinner.View()))
			} else {
				lines = append(lines, subtleStyle.Render(fmt.Sprintf(" %-12s -", row.Role)))
			}
			continue
		}
		acc := row.Account
		lines = append(lines, fmt.Sprintf(" %-12s %-14s %-16s %s %s",
			row.Role,
			m.maskAddress(acc.Address),
			utils.TruncateString(acc.Name, 16),
			statusStyle(acc.Status).Render(fmt.Sprintf("%-6s", acc.Status)),
			m.displayBalance(acc),
		))
	}
	return strings.Join(lines, "\n")
}

func (m model) viewPanels() string {
	lines := []string{tableHeaderStyle.Render("Panels")}
	for i, row := range panelRows(m.state.Settings.PanelTree) {
		mark := "[ ]"
		if row.Visible {
			mark = "[x]"
		}
		line := fmt.Sprintf("%s%s %s", strings.Repeat("  ", row.Depth), mark, row.ID)
		switch {
		case i == m.cursor:
			line = selectedStyle.Render(line)
		case row.Effective:
			line = infoStyle.Render(line)
		case row.Visible:
			// Open, but hidden by a closed ancestor.
			line = subtleStyle.Render(line)
		}
		lines = append(lines, line)
	}
	return strings.Join(lines, "\n")
}

func (m model) viewTrade() string {
	t := m.state.TradeData
	symbol := func(tc *models.TokenContract) string {
		if tc == nil {
			return "-"
		}
		return tc.Symbol
	}
	return fmt.Sprintf("%s  sell %s  buy %s  rate %s  slippage %s  provider %s",
		t.TradeDirection, symbol(t.SellTokenContract), symbol(t.BuyTokenContract),
		utils.FormatFloat(t.RateRatio, 4), t.Slippage.PercentageString, m.state.Settings.APITradingProvider)
}

func (m model) viewFooter() string {
	status := m.statusMessage
	if status == "" {
		status = subtleStyle.Render(fmt.Sprintf("last change: %s (%s)", m.lastReason, m.lastUpdate.Format("15:04:05")))
	}
	return status + "\n" + subtleStyle.Render("j/k move • enter toggle • o open only • n network • d dismiss • c copy • w web • p privacy • ? help • q quit")
}

func (m model) viewHelp() string {
	help := []string{
		"j/k, up/down   move through the panel tree",
		"enter, space   toggle the selected panel",
		"o              open the selected panel, closing the rest of its group",
		"n              switch the app to the next supported network",
		"d              dismiss the current error",
		"c              copy the active address",
		"w              open the account website or network explorer",
		"p              toggle privacy mode",
		"q              quit",
	}
	return lipgloss.Place(m.width, m.height, lipgloss.Center, lipgloss.Center,
		boxStyle.Render(lipgloss.JoinVertical(lipgloss.Left,
			titleStyle.Render("Help"),
			"",
			strings.Join(help, "\n"),
			"",
			subtleStyle.Render("esc to close"),
		)),
	)
}
