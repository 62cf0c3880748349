// Package browser opens the authorization page in the user's default web browser.
// When no browser can be launched the URL is copied to the clipboard instead.
package browser

import (
	"fmt"
	"os/exec"
	"runtime"

	"github.com/atotto/clipboard"
	log "github.com/sirupsen/logrus"
	"github.com/skratchdot/open-golang/open"
)

var linuxBrowsers = []string{"xdg-open", "x-www-browser", "www-browser", "firefox", "chromium", "google-chrome"}

// OpenURL opens url in the default browser, falling back to OS-specific commands
// when open-golang cannot start one.
func OpenURL(url string) error {
	if err := open.Run(url); err == nil {
		log.Debug("opened authorization URL with open-golang")
		return nil
	} else {
		log.Debugf("open-golang failed: %v, trying platform-specific commands", err)
	}
	return openURLPlatformSpecific(url)
}

// CopyURL places url on the system clipboard.
func CopyURL(url string) error {
	if clipboard.Unsupported {
		return fmt.Errorf("clipboard not supported on this system")
	}
	if err := clipboard.WriteAll(url); err != nil {
		return fmt.Errorf("copy to clipboard: %w", err)
	}
	return nil
}

func platformCommand(url string) (*exec.Cmd, error) {
	switch runtime.GOOS {
	case "darwin":
		return exec.Command("open", url), nil
	case "windows":
		return exec.Command("rundll32", "url.dll,FileProtocolHandler", url), nil
	case "linux":
		for _, name := range linuxBrowsers {
			if _, err := exec.LookPath(name); err == nil {
				return exec.Command(name, url), nil
			}
		}
		return nil, fmt.Errorf("no suitable browser found on Linux system")
	default:
		return nil, fmt.Errorf("unsupported operating system: %s", runtime.GOOS)
	}
}

func openURLPlatformSpecific(url string) error {
	cmd, err := platformCommand(url)
	if err != nil {
		return err
	}
	log.Debugf("Running command: %s %v", cmd.Path, cmd.Args[1:])
	if err = cmd.Start(); err != nil {
		return fmt.Errorf("failed to start browser command: %w", err)
	}
	return nil
}

// IsAvailable reports whether a command exists that can open a web browser.
func IsAvailable() bool {
	switch runtime.GOOS {
	case "darwin":
		_, err := exec.LookPath("open")
		return err == nil
	case "windows":
		_, err := exec.LookPath("rundll32")
		return err == nil
	case "linux":
		for _, name := range linuxBrowsers {
			if _, err := exec.LookPath(name); err == nil {
				return true
			}
		}
		return false
	default:
		return false
	}
}
