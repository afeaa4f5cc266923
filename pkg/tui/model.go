package tui

import (
	"time"

	"sponsorcoin/pkg/models"
	"sponsorcoin/pkg/reconcile"
	"sponsorcoin/pkg/store"

	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
)

// Version is set by Start()
var Version = "dev"

// --- Messages ---

type clearStatusMsg struct{}
type uiTickMsg time.Time

// --- Model ---

type model struct {
	store         *store.Store
	controller    *reconcile.Controller
	sub           store.Subscriber
	state         models.ExchangeState
	lastReason    string
	lastUpdate    time.Time
	cursor        int
	width         int
	height        int
	spinner       spinner.Model
	statusMessage string
	showHelp      bool
	privacyMode   bool
}

func initialModel(st *store.Store, ctrl *reconcile.Controller) model {
	s := spinner.New()
	s.Spinner = spinner.Dot
	s.Style = lipgloss.NewStyle().Foreground(lipgloss.Color("205"))

	return model{
		store:      st,
		controller: ctrl,
		sub:        st.Subscribe(),
		state:      st.GetState(),
		lastUpdate: time.Now(),
		spinner:    s,
	}
}

func (m model) Init() tea.Cmd {
	return tea.Batch(
		listenForStore(m.sub),
		m.spinner.Tick,
		tea.Tick(time.Second, func(t time.Time) tea.Msg { return uiTickMsg(t) }),
	)
}
