package browser

import (
	"io"

	pkgbrowser "github.com/pkg/browser"
)

//go:generate mockgen -source=browser.go -package browser -destination browser_mock.go Launcher
type Launcher interface {
	Open(url string) error
}

// System opens URLs with the desktop's default browser.
type System struct{}

var _ Launcher = System{}

func init() {
	// xdg-open and friends print to the terminal that hosts the console menu.
	pkgbrowser.Stdout = io.Discard
	pkgbrowser.Stderr = io.Discard
}

func (System) Open(url string) error {
	return pkgbrowser.OpenURL(url)
}

// Func adapts a plain function to Launcher.
type Func func(url string) error

func (f Func) Open(url string) error {
	return f(url)
}
