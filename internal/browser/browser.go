// Package browser opens the provider authorization URL in the user's default
// web browser, with platform-specific fallbacks.
package browser

import (
	"fmt"
	"os/exec"
	"runtime"

	log "github.com/sirupsen/logrus"
	"github.com/skratchdot/open-golang/open"
)

// OpenURL opens url in the default browser. It tries the open-golang launcher
// first and falls back to platform commands when that fails.
func OpenURL(url string) error {
	err := open.Run(url)
	if err == nil {
		log.Debug("opened authorization URL via default launcher")
		return nil
	}
	log.Debugf("default launcher failed: %v, trying platform commands", err)
	return openPlatformSpecific(url)
}

func openPlatformSpecific(url string) error {
	var cmd *exec.Cmd

	switch runtime.GOOS {
	case "darwin":
		cmd = exec.Command("open", url)
	case "windows":
		cmd = exec.Command("rundll32", "url.dll,FileProtocolHandler", url)
	case "linux":
		launchers := []string{"xdg-open", "x-www-browser", "www-browser", "firefox", "chromium", "google-chrome"}
		for _, launcher := range launchers {
			if _, lookErr := exec.LookPath(launcher); lookErr == nil {
				cmd = exec.Command(launcher, url)
				break
			}
		}
		if cmd == nil {
			return fmt.Errorf("no suitable browser found")
		}
	default:
		return fmt.Errorf("unsupported operating system: %s", runtime.GOOS)
	}

	if err := cmd.Start(); err != nil {
		return fmt.Errorf("failed to start browser command: %w", err)
	}
	return nil
}
