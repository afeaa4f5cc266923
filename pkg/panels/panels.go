// Package panels implements the panel visibility tree. All operations are
// pure: they return a new tree and never modify their input.
package panels

import (
	"errors"
	"fmt"

	"sponsorcoin/pkg/models"
)

var (
	ErrUnknownPanel   = errors.New("unknown panel id")
	ErrDuplicatePanel = errors.New("duplicate panel id")
)

// Exclusion groups used by callers of OpenOnly.
var (
	ManageSponsorshipGroup = []models.PanelID{
		models.ManageSponsorsPanel,
		models.ManageRecipientsPanel,
		models.ManageAgentsPanel,
	}
	MainOverlayGroup = []models.PanelID{
		models.TradingStationPanel,
		models.ManageSponsorshipsPanel,
		models.TokenListSelectPanel,
		models.SponsorListSelectPanel,
		models.RecipientListSelectPanel,
		models.AgentListSelectPanel,
		models.ConfigSettingsPanel,
		models.ErrorMessagePanel,
	}
)

// Group returns a named exclusion group.
func Group(name string) ([]models.PanelID, bool) {
	switch name {
	case "manage-sponsorship":
		return ManageSponsorshipGroup, true
	case "main-overlay":
		return MainOverlayGroup, true
	}
	return nil, false
}

func node(id models.PanelID, visible bool, children ...*models.PanelNode) *models.PanelNode {
	if children == nil {
		children = []*models.PanelNode{}
	}
	return &models.PanelNode{ID: id, Visible: visible, Children: children}
}

// DefaultTree returns a fresh copy of the initial layout: the trading station
// is showing and every overlay is closed.
func DefaultTree() *models.PanelNode {
	return node(models.MainTradingPanel, true,
		node(models.TradeContainerHeader, true),
		node(models.TradingStationPanel, true,
			node(models.SellSelectPanel, true),
			node(models.BuySelectPanel, true),
			node(models.RecipientSelectPanel, false),
			node(models.AgentSelectPanel, false),
			node(models.FeeDisclosurePanel, false),
			node(models.AffiliateFeePanel, false),
			node(models.SwapActionButton, true),
		),
		node(models.ManageSponsorshipsPanel, false,
			node(models.ManageSponsorsPanel, false),
			node(models.ManageRecipientsPanel, false),
			node(models.ManageAgentsPanel, false),
			node(models.StakingPanel, false),
		),
		node(models.TokenListSelectPanel, false),
		node(models.SponsorListSelectPanel, false),
		node(models.RecipientListSelectPanel, false),
		node(models.AgentListSelectPanel, false),
		node(models.ConfigSettingsPanel, false),
		node(models.ErrorMessagePanel, false),
	)
}

// Flatten returns every node of the tree in pre-order.
func Flatten(root *models.PanelNode) []*models.PanelNode {
	var out []*models.PanelNode
	var walk func(n *models.PanelNode)
	walk = func(n *models.PanelNode) {
		if n == nil {
			return
		}
		out = append(out, n)
		for _, c := range n.Children {
			walk(c)
		}
	}
	walk(root)
	return out
}

// Find returns the node with the given id, or nil.
func Find(root *models.PanelNode, id models.PanelID) *models.PanelNode {
	for _, n := range Flatten(root) {
		if n.ID == id {
			return n
		}
	}
	return nil
}

// EffectiveVisible reports whether id is rendered: its own flag and every
// ancestor's flag must be set.
func EffectiveVisible(root *models.PanelNode, id models.PanelID) bool {
	var walk func(n *models.PanelNode, parentVisible bool) (bool, bool)
	walk = func(n *models.PanelNode, parentVisible bool) (bool, bool) {
		if n == nil {
			return false, false
		}
		eff := parentVisible && n.Visible
		if n.ID == id {
			return eff, true
		}
		for _, c := range n.Children {
			if v, found := walk(c, eff); found {
				return v, true
			}
		}
		return false, false
	}
	v, _ := walk(root, true)
	return v
}

// Validate checks that every id in the tree is known and appears once.
func Validate(root *models.PanelNode) error {
	if root == nil {
		return fmt.Errorf("%w: empty tree", ErrUnknownPanel)
	}
	seen := make(map[models.PanelID]bool)
	for _, n := range Flatten(root) {
		if !n.ID.Valid() {
			return fmt.Errorf("%w: %q", ErrUnknownPanel, n.ID)
		}
		if seen[n.ID] {
			return fmt.Errorf("%w: %q", ErrDuplicatePanel, n.ID)
		}
		seen[n.ID] = true
	}
	return nil
}

// set returns a copy of root with the visibility of each listed id replaced.
func set(root *models.PanelNode, want map[models.PanelID]bool) (*models.PanelNode, bool, error) {
	for id := range want {
		if !id.Valid() {
			return root, false, fmt.Errorf("%w: %q", ErrUnknownPanel, id)
		}
		if Find(root, id) == nil {
			return root, false, fmt.Errorf("%w: %q not in tree", ErrUnknownPanel, id)
		}
	}
	next := root.Clone()
	changed := false
	for _, n := range Flatten(next) {
		if v, ok := want[n.ID]; ok && n.Visible != v {
			n.Visible = v
			changed = true
		}
	}
	if !changed {
		return root, false, nil
	}
	return next, true, nil
}

// Open makes id visible. Opening an open panel returns the input unchanged.
func Open(root *models.PanelNode, id models.PanelID) (*models.PanelNode, bool, error) {
	return set(root, map[models.PanelID]bool{id: true})
}

// Close hides id. Closing a closed panel returns the input unchanged.
func Close(root *models.PanelNode, id models.PanelID) (*models.PanelNode, bool, error) {
	return set(root, map[models.PanelID]bool{id: false})
}

// Toggle flips the visibility of id.
func Toggle(root *models.PanelNode, id models.PanelID) (*models.PanelNode, bool, error) {
	n := Find(root, id)
	if n == nil {
		return root, false, fmt.Errorf("%w: %q", ErrUnknownPanel, id)
	}
	return set(root, map[models.PanelID]bool{id: !n.Visible})
}

// OpenOnly opens id and closes every other member of group in one step.
// id does not have to be a member of group.
func OpenOnly(root *models.PanelNode, id models.PanelID, group []models.PanelID) (*models.PanelNode, bool, error) {
	want := make(map[models.PanelID]bool, len(group)+1)
	for _, g := range group {
		want[g] = false
	}
	want[id] = true
	return set(root, want)
}
