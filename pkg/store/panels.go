package store

import (
	"errors"
	"fmt"

	"sponsorcoin/pkg/models"
	"sponsorcoin/pkg/networks"
	"sponsorcoin/pkg/panels"
)

var ErrInvalidSetting = errors.New("invalid setting")

type panelOp func(*models.PanelNode) (*models.PanelNode, bool, error)

// updatePanels applies op to the current tree in a single commit. It reports
// whether the tree changed.
func (s *Store) updatePanels(op panelOp, reason string) (bool, error) {
	var opErr error
	changed := s.SetState(func(st models.ExchangeState) models.ExchangeState {
		tree, ok, err := op(st.Settings.PanelTree)
		if err != nil {
			opErr = err
			return st
		}
		if ok {
			st.Settings.PanelTree = tree
		}
		return st
	}, reason)
	return changed, opErr
}

func (s *Store) TogglePanel(id models.PanelID) (bool, error) {
	return s.updatePanels(func(t *models.PanelNode) (*models.PanelNode, bool, error) {
		return panels.Toggle(t, id)
	}, "toggle "+string(id))
}

func (s *Store) OpenPanel(id models.PanelID) (bool, error) {
	return s.updatePanels(func(t *models.PanelNode) (*models.PanelNode, bool, error) {
		return panels.Open(t, id)
	}, "open "+string(id))
}

func (s *Store) ClosePanel(id models.PanelID) (bool, error) {
	return s.updatePanels(func(t *models.PanelNode) (*models.PanelNode, bool, error) {
		return panels.Close(t, id)
	}, "close "+string(id))
}

// OpenOnlyPanel opens id and closes the rest of group in one commit.
func (s *Store) OpenOnlyPanel(id models.PanelID, group []models.PanelID) (bool, error) {
	return s.updatePanels(func(t *models.PanelNode) (*models.PanelNode, bool, error) {
		return panels.OpenOnly(t, id, group)
	}, "open only "+string(id))
}

// ReportError records err and opens the error panel in one commit.
func (s *Store) ReportError(rec models.ErrorRecord) bool {
	return s.SetState(func(st models.ExchangeState) models.ExchangeState {
		st.ErrorMessage = &rec
		if tree, ok, err := panels.Open(st.Settings.PanelTree, models.ErrorMessagePanel); err == nil && ok {
			st.Settings.PanelTree = tree
		}
		return st
	}, "error from "+rec.Source)
}

// DismissError clears the surfaced error and closes its panel.
func (s *Store) DismissError() bool {
	return s.SetState(func(st models.ExchangeState) models.ExchangeState {
		st.ErrorMessage = nil
		st.APIErrorMessage = nil
		if tree, ok, err := panels.Close(st.Settings.PanelTree, models.ErrorMessagePanel); err == nil && ok {
			st.Settings.PanelTree = tree
		}
		return st
	}, "dismiss error")
}

func (s *Store) SetSlippage(bps int) (bool, error) {
	if bps < 0 || bps > 10000 {
		return false, fmt.Errorf("%w: slippage %d bps out of range", ErrInvalidSetting, bps)
	}
	return s.SetState(func(st models.ExchangeState) models.ExchangeState {
		st.TradeData.Slippage = networks.SlippageFromBPS(bps)
		return st
	}, "set slippage"), nil
}

func (s *Store) SetTradeDirection(d models.TradeDirection) (bool, error) {
	if !d.Valid() {
		return false, fmt.Errorf("%w: trade direction %q", ErrInvalidSetting, d)
	}
	return s.SetState(func(st models.ExchangeState) models.ExchangeState {
		st.TradeData.TradeDirection = d
		return st
	}, "set trade direction"), nil
}

func (s *Store) SetAPIProvider(p models.APITradingProvider) (bool, error) {
	if !p.Valid() {
		return false, fmt.Errorf("%w: api provider %q", ErrInvalidSetting, p)
	}
	return s.SetState(func(st models.ExchangeState) models.ExchangeState {
		st.Settings.APITradingProvider = p
		return st
	}, "set api provider"), nil
}
