package filter

import (
	"strings"

	"github.com/polisai/polis-signals/pkg/probe"
)

// Bot signal names reported by DetectBotSignals.
const (
	SignalUserAgent        = "user_agent"
	SignalWebDriver        = "webdriver_flag"
	SignalOuterWindow      = "headless_outer_window"
	SignalMissingRuntime   = "headless_missing_runtime"
	SignalHeadlessGlobal   = "headless_global"
	SignalAutomation       = "automation_global"
	SignalDegenerateScreen = "degenerate_screen"
)

// DetectBotSignals returns every bot/automation signal present in env. An empty
// result means the session looks like a real user. A nil env yields no signals.
func DetectBotSignals(env probe.Environment) []string {
	if env == nil {
		return nil
	}

	var signals []string

	ua := strings.ToLower(env.UserAgent())
	if isBotUserAgent(ua) {
		signals = append(signals, SignalUserAgent)
	}

	if env.HasAutomationFlag() {
		signals = append(signals, SignalWebDriver)
	}

	if screen, ok := env.ScreenSize(); ok && screen.IsZero() {
		signals = append(signals, SignalDegenerateScreen)
	}

	inspector, ok := env.(probe.RuntimeInspector)
	if !ok {
		return signals
	}

	if outer, ok := inspector.OuterSize(); ok && outer.IsZero() {
		signals = append(signals, SignalOuterWindow)
	}

	if isChromium(ua) && !inspector.HasGlobal(browserRuntimeGlobal) {
		signals = append(signals, SignalMissingRuntime)
	}

	if hasAnyGlobal(inspector, headlessGlobals) {
		signals = append(signals, SignalHeadlessGlobal)
	}

	if hasAnyGlobal(inspector, automationGlobals) {
		signals = append(signals, SignalAutomation)
	}

	return signals
}

// IsBotUserAgent reports whether ua matches the curated bot/crawler list.
func IsBotUserAgent(ua string) bool {
	return isBotUserAgent(strings.ToLower(ua))
}

func isBotUserAgent(lowerUA string) bool {
	if lowerUA == "" {
		return false
	}
	for _, s := range botUserAgentSubstrings {
		if strings.Contains(lowerUA, s) {
			return true
		}
	}
	return false
}

// isChromium matches desktop and mobile Chromium builds. Chromium-based iOS
// browsers (CriOS) run on WebKit and do not expose the runtime object.
func isChromium(lowerUA string) bool {
	return strings.Contains(lowerUA, "chrome/") && !strings.Contains(lowerUA, "crios")
}

func hasAnyGlobal(inspector probe.RuntimeInspector, names []string) bool {
	for _, name := range names {
		if inspector.HasGlobal(name) {
			return true
		}
	}
	return false
}
