// Package browser opens links, like the member dashboard, in the user's
// default browser.
package browser

import (
	"fmt"
	"net/url"
	"os/exec"
	"runtime"
)

// Open opens the specified URL in the user's default browser.
func Open(rawURL string) error {
	name, args, err := command(runtime.GOOS, rawURL)
	if err != nil {
		return err
	}
	return exec.Command(name, args...).Start()
}

// command returns the launcher for goos. Only http(s) URLs are opened so
// a crafted link cannot reach a file or custom protocol handler.
func command(goos, rawURL string) (string, []string, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", nil, fmt.Errorf("parse url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return "", nil, fmt.Errorf("refusing to open %q: not an http(s) URL", rawURL)
	}

	switch goos {
	case "darwin":
		return "open", []string{rawURL}, nil
	case "linux", "freebsd", "openbsd":
		return "xdg-open", []string{rawURL}, nil
	case "windows":
		return "rundll32", []string{"url.dll,FileProtocolHandler", rawURL}, nil
	default:
		return "", nil, fmt.Errorf("unsupported OS: %s", goos)
	}
}
