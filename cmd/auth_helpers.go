package cmd

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/chromedp/chromedp"
	"github.com/google/uuid"
)

func resolveProfileDir(explicitDir string) (string, bool, error) {
	if strings.TrimSpace(explicitDir) != "" {
		return explicitDir, false, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", false, fmt.Errorf("resolve home directory: %w", err)
	}
	base := filepath.Join(home, ".timebill")
	if err := os.MkdirAll(base, 0o700); err != nil {
		return "", false, fmt.Errorf("create directory %q: %w", base, err)
	}
	profileDir, err := os.MkdirTemp(base, "chrome-profile-*")
	if err != nil {
		return "", false, fmt.Errorf("create temporary profile dir: %w", err)
	}
	return profileDir, true, nil
}

func ensureParentDir(path string, mode os.FileMode) error {
	parent := filepath.Dir(path)
	if err := os.MkdirAll(parent, mode); err != nil {
		return fmt.Errorf("create directory %q: %w", parent, err)
	}
	return nil
}

// newOAuthState returns the anti-forgery value echoed by the authorize redirect.
func newOAuthState() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")
}

func browserAllocatorOptions(profileDir, browserBin string) []chromedp.ExecAllocatorOption {
	options := []chromedp.ExecAllocatorOption{
		chromedp.Flag("headless", false),
		chromedp.UserDataDir(profileDir),
		chromedp.Flag("disable-infobars", true),
		chromedp.Flag("new-window", true),
		chromedp.Flag("restore-last-session", false),
		chromedp.NoDefaultBrowserCheck,
		chromedp.NoFirstRun,
	}
	if strings.TrimSpace(browserBin) != "" {
		options = append(options, chromedp.ExecPath(strings.TrimSpace(browserBin)))
	}
	return options
}
