package tui

import (
	"sort"

	"sponsorcoin/pkg/models"
	"sponsorcoin/pkg/panels"
	"sponsorcoin/pkg/store"

	tea "github.com/charmbracelet/bubbletea"
)

// panelRow is one line of the panel tree view.
type panelRow struct {
	ID        models.PanelID
	Depth     int
	Visible   bool
	Effective bool
}

func panelRows(root *models.PanelNode) []panelRow {
	var rows []panelRow
	var walk func(n *models.PanelNode, depth int, parentVisible bool)
	walk = func(n *models.PanelNode, depth int, parentVisible bool) {
		if n == nil {
			return
		}
		eff := parentVisible && n.Visible
		rows = append(rows, panelRow{ID: n.ID, Depth: depth, Visible: n.Visible, Effective: eff})
		for _, c := range n.Children {
			walk(c, depth+1, eff)
		}
	}
	walk(root, 0, true)
	return rows
}

// groupFor returns the exclusion group id belongs to, if any.
func groupFor(id models.PanelID) []models.PanelID {
	for _, g := range [][]models.PanelID{panels.ManageSponsorshipGroup, panels.MainOverlayGroup} {
		for _, member := range g {
			if member == id {
				return g
			}
		}
	}
	return nil
}

// nextNetwork returns the supported chain after current, wrapping around.
func nextNetwork(ids []int64, current int64) int64 {
	if len(ids) == 0 {
		return current
	}
	sorted := append([]int64(nil), ids...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })
	for _, id := range sorted {
		if id > current {
			return id
		}
	}
	return sorted[0]
}

type accountRow struct {
	Role    string
	Account *models.Account
}

func accountRows(a models.Accounts) []accountRow {
	rows := []accountRow{
		{"Active", a.ActiveAccount},
		{"Sponsor", a.SponsorAccount},
		{"Recipient", a.RecipientAccount},
		{"Agent", a.AgentAccount},
	}
	for _, acc := range a.SponsorAccounts {
		rows = append(rows, accountRow{"Sponsors[]", acc})
	}
	for _, acc := range a.RecipientAccounts {
		rows = append(rows, accountRow{"Recipients[]", acc})
	}
	for _, acc := range a.AgentAccounts {
		rows = append(rows, accountRow{"Agents[]", acc})
	}
	return rows
}

func listenForStore(sub store.Subscriber) tea.Cmd {
	return func() tea.Msg {
		change, ok := <-sub
		if !ok {
			return nil
		}
		return change
	}
}
