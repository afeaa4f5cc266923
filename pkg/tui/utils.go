package tui

import (
	"os/exec"
	"runtime"

	"sponsorcoin/pkg/models"
	"sponsorcoin/pkg/utils"
)

func (m model) displayBalance(acc *models.Account) string {
	if m.privacyMode {
		return "****"
	}
	return utils.FormatUnits(acc.BalanceOrZero(), 18, 4)
}

func (m model) maskAddress(addr string) string {
	if m.privacyMode {
		return "0x**...**"
	}
	return utils.ShortAddress(addr)
}

// openBrowser opens the specified URL in the default browser.
func openBrowser(url string) error {
	var cmd string
	var args []string

	switch runtime.GOOS {
	case "windows":
		cmd = "cmd"
		args = []string{"/c", "start"}
	case "darwin":
		cmd = "open"
	default: // "linux", "freebsd", "openbsd", "netbsd"
		cmd = "xdg-open"
	}
	args = append(args, url)
	return exec.Command(cmd, args...).Start()
}
