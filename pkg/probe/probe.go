// Package probe abstracts the client environment the filter engine inspects:
// the user agent, window and screen geometry, the page host and automation
// markers. Production code reads these from the incoming request or the host
// runtime, tests supply a Static fixture.
//
// Every accessor is read defensively. A missing signal is reported as the zero
// value (or ok=false) and never as an error.
package probe

// Size is a width/height pair in CSS pixels.
type Size struct {
	Width  int `json:"width" yaml:"width"`
	Height int `json:"height" yaml:"height"`
}

// IsZero reports a degenerate 0x0 geometry.
func (s Size) IsZero() bool {
	return s.Width == 0 && s.Height == 0
}

// Environment is the fixed set of client probes used for session classification.
type Environment interface {
	UserAgent() string
	ViewportSize() (Size, bool)
	ScreenSize() (Size, bool)
	Hostname() string
	HasAutomationFlag() bool
}

// RuntimeInspector is implemented by environments that can see the script
// runtime, such as a browser bridge. Headless and automation-framework
// fingerprints are only evaluated when it is available.
type RuntimeInspector interface {
	OuterSize() (Size, bool)
	HasGlobal(name string) bool
}

// Static is a fixed Environment, used by tests and by hosts that already
// collected the client signals.
type Static struct {
	Agent     string
	Host      string
	Viewport  *Size
	Outer     *Size
	Screen    *Size
	WebDriver bool
	Globals   []string
}

var (
	_ Environment      = (*Static)(nil)
	_ RuntimeInspector = (*Static)(nil)
)

func (s *Static) UserAgent() string { return s.Agent }

func (s *Static) Hostname() string { return s.Host }

func (s *Static) HasAutomationFlag() bool { return s.WebDriver }

func (s *Static) ViewportSize() (Size, bool) { return sizeOf(s.Viewport) }

func (s *Static) ScreenSize() (Size, bool) { return sizeOf(s.Screen) }

func (s *Static) OuterSize() (Size, bool) { return sizeOf(s.Outer) }

// HasGlobal reports whether name is one of the configured globals.
func (s *Static) HasGlobal(name string) bool {
	for _, g := range s.Globals {
		if g == name {
			return true
		}
	}
	return false
}

func sizeOf(s *Size) (Size, bool) {
	if s == nil {
		return Size{}, false
	}
	return *s, true
}

// Desktop returns a Static environment that looks like an ordinary desktop Chrome
// session on host.
func Desktop(host string) *Static {
	return &Static{
		Agent:    DesktopChromeUA,
		Host:     host,
		Viewport: &Size{Width: 1440, Height: 900},
		Outer:    &Size{Width: 1440, Height: 1000},
		Screen:   &Size{Width: 2560, Height: 1440},
		Globals:  []string{"chrome"},
	}
}

// DesktopChromeUA is a representative desktop browser user agent.
const DesktopChromeUA = "Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/126.0.0.0 Safari/537.36"
