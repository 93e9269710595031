package filter

import (
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/polisai/polis-signals/pkg/domain"
	"github.com/polisai/polis-signals/pkg/probe"
)

func TestIsRealUserSession(t *testing.T) {
	tests := []struct {
		name   string
		env    func() *probe.Static
		real   bool
		signal string
	}{
		{
			name: "desktop browser",
			env:  func() *probe.Static { return probe.Desktop(pageHost) },
			real: true,
		},
		{
			name:   "googlebot",
			env:    botEnv,
			signal: SignalUserAgent,
		},
		{
			name: "webdriver flag",
			env: func() *probe.Static {
				env := probe.Desktop(pageHost)
				env.WebDriver = true
				return env
			},
			signal: SignalWebDriver,
		},
		{
			name: "headless outer window",
			env: func() *probe.Static {
				env := probe.Desktop(pageHost)
				env.Outer = &probe.Size{}
				return env
			},
			signal: SignalOuterWindow,
		},
		{
			name: "chromium without runtime object",
			env: func() *probe.Static {
				env := probe.Desktop(pageHost)
				env.Globals = nil
				return env
			},
			signal: SignalMissingRuntime,
		},
		{
			name: "phantom global",
			env: func() *probe.Static {
				env := probe.Desktop(pageHost)
				env.Globals = append(env.Globals, "callPhantom")
				return env
			},
			signal: SignalHeadlessGlobal,
		},
		{
			name: "selenium global",
			env: func() *probe.Static {
				env := probe.Desktop(pageHost)
				env.Globals = append(env.Globals, "__selenium_unwrapped")
				return env
			},
			signal: SignalAutomation,
		},
		{
			name: "zero screen",
			env: func() *probe.Static {
				env := probe.Desktop(pageHost)
				env.Screen = &probe.Size{}
				return env
			},
			signal: SignalDegenerateScreen,
		},
		{
			name: "firefox without chrome global",
			env: func() *probe.Static {
				env := probe.Desktop(pageHost)
				env.Agent = "Mozilla/5.0 (X11; Linux x86_64; rv:128.0) Gecko/20100101 Firefox/128.0"
				env.Globals = nil
				return env
			},
			real: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			engine := New(domain.FilterConfig{EnableBotDetection: true, SamplingRate: 1}, tt.env())
			assert.Equal(t, tt.real, engine.IsRealUserSession())
			if tt.signal != "" {
				assert.Contains(t, engine.BotSignals(), tt.signal)
			} else {
				assert.Empty(t, engine.BotSignals())
			}
		})
	}
}

func TestRequestProbeSkipsRuntimeChecks(t *testing.T) {
	req := httptest.NewRequest("POST", "https://collector.example.com/v1/beacon", nil)
	req.Header.Set("User-Agent", probe.DesktopChromeUA)

	engine := New(domain.FilterConfig{EnableBotDetection: true, SamplingRate: 1}, probe.FromRequest(req))
	assert.True(t, engine.IsRealUserSession())

	req.Header.Set("User-Agent", "curl/8.4.0")
	engine = New(domain.FilterConfig{EnableBotDetection: true, SamplingRate: 1}, probe.FromRequest(req))
	assert.False(t, engine.IsRealUserSession())
}

func TestIsBotUserAgent(t *testing.T) {
	assert.True(t, IsBotUserAgent("Mozilla/5.0 (compatible; bingbot/2.0)"))
	assert.True(t, IsBotUserAgent("Mozilla/5.0 HeadlessChrome/120.0"))
	assert.False(t, IsBotUserAgent(probe.DesktopChromeUA))
	assert.False(t, IsBotUserAgent(""))
}
