package models

// PanelID identifies a UI region. The set is closed.
type PanelID string

const (
	MainTradingPanel         PanelID = "MAIN_TRADING_PANEL"
	TradeContainerHeader     PanelID = "TRADE_CONTAINER_HEADER"
	TradingStationPanel      PanelID = "TRADING_STATION_PANEL"
	SellSelectPanel          PanelID = "SELL_SELECT_PANEL"
	BuySelectPanel           PanelID = "BUY_SELECT_PANEL"
	RecipientSelectPanel     PanelID = "RECIPIENT_SELECT_PANEL"
	AgentSelectPanel         PanelID = "AGENT_SELECT_PANEL"
	FeeDisclosurePanel       PanelID = "FEE_DISCLOSURE_PANEL"
	AffiliateFeePanel        PanelID = "AFFILIATE_FEE_PANEL"
	SwapActionButton         PanelID = "SWAP_ACTION_BUTTON"
	ManageSponsorshipsPanel  PanelID = "MANAGE_SPONSORSHIPS_PANEL"
	ManageSponsorsPanel      PanelID = "MANAGE_SPONSORS_PANEL"
	ManageRecipientsPanel    PanelID = "MANAGE_RECIPIENTS_PANEL"
	ManageAgentsPanel        PanelID = "MANAGE_AGENTS_PANEL"
	StakingPanel             PanelID = "STAKING_PANEL"
	TokenListSelectPanel     PanelID = "TOKEN_LIST_SELECT_PANEL"
	SponsorListSelectPanel   PanelID = "SPONSOR_LIST_SELECT_PANEL"
	RecipientListSelectPanel PanelID = "RECIPIENT_LIST_SELECT_PANEL"
	AgentListSelectPanel     PanelID = "AGENT_LIST_SELECT_PANEL"
	ConfigSettingsPanel      PanelID = "CONFIG_SETTINGS_PANEL"
	ErrorMessagePanel        PanelID = "ERROR_MESSAGE_PANEL"
)

// AllPanelIDs lists every known panel identifier.
var AllPanelIDs = []PanelID{
	MainTradingPanel,
	TradeContainerHeader,
	TradingStationPanel,
	SellSelectPanel,
	BuySelectPanel,
	RecipientSelectPanel,
	AgentSelectPanel,
	FeeDisclosurePanel,
	AffiliateFeePanel,
	SwapActionButton,
	ManageSponsorshipsPanel,
	ManageSponsorsPanel,
	ManageRecipientsPanel,
	ManageAgentsPanel,
	StakingPanel,
	TokenListSelectPanel,
	SponsorListSelectPanel,
	RecipientListSelectPanel,
	AgentListSelectPanel,
	ConfigSettingsPanel,
	ErrorMessagePanel,
}

var knownPanels = func() map[PanelID]struct{} {
	m := make(map[PanelID]struct{}, len(AllPanelIDs))
	for _, id := range AllPanelIDs {
		m[id] = struct{}{}
	}
	return m
}()

// Valid reports whether id belongs to the known panel set.
func (id PanelID) Valid() bool {
	_, ok := knownPanels[id]
	return ok
}

// PanelNode is one region in the visibility tree.
type PanelNode struct {
	ID       PanelID      `json:"id"`
	Visible  bool         `json:"visible"`
	Children []*PanelNode `json:"children"`
}

// Clone deep-copies the subtree rooted at n.
func (n *PanelNode) Clone() *PanelNode {
	if n == nil {
		return nil
	}
	cp := &PanelNode{ID: n.ID, Visible: n.Visible, Children: make([]*PanelNode, 0, len(n.Children))}
	for _, c := range n.Children {
		cp.Children = append(cp.Children, c.Clone())
	}
	return cp
}
