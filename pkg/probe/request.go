package probe

import (
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
)

// Headers a client beacon may set to forward signals that are not part of a
// plain HTTP request.
const (
	HeaderViewport  = "X-Signals-Viewport"
	HeaderScreen    = "X-Signals-Screen"
	HeaderWebDriver = "X-Signals-Webdriver"
)

// Request is an Environment backed by an incoming HTTP request, for collectors
// that receive beacons from browsers. It does not implement RuntimeInspector.
type Request struct {
	agent     string
	host      string
	viewport  *Size
	screen    *Size
	webdriver bool
}

var _ Environment = (*Request)(nil)

// FromRequest captures the client signals carried by r. A nil request yields nil,
// which callers treat as "no client environment".
func FromRequest(r *http.Request) *Request {
	if r == nil {
		return nil
	}

	env := &Request{
		agent:     r.UserAgent(),
		host:      pageHost(r),
		webdriver: strings.EqualFold(strings.TrimSpace(r.Header.Get(HeaderWebDriver)), "true"),
	}

	if size, ok := parseSize(r.Header.Get(HeaderViewport)); ok {
		env.viewport = &size
	} else if size, ok := clientHintViewport(r.Header); ok {
		env.viewport = &size
	}
	if size, ok := parseSize(r.Header.Get(HeaderScreen)); ok {
		env.screen = &size
	}

	return env
}

// The accessors tolerate a nil receiver so a nil *Request stored in an
// Environment degrades to "no signal".

func (r *Request) UserAgent() string {
	if r == nil {
		return ""
	}
	return r.agent
}

func (r *Request) Hostname() string {
	if r == nil {
		return ""
	}
	return r.host
}

func (r *Request) HasAutomationFlag() bool {
	return r != nil && r.webdriver
}

func (r *Request) ViewportSize() (Size, bool) {
	if r == nil {
		return Size{}, false
	}
	return sizeOf(r.viewport)
}

func (r *Request) ScreenSize() (Size, bool) {
	if r == nil {
		return Size{}, false
	}
	return sizeOf(r.screen)
}

// pageHost prefers the page that issued the beacon (Origin, then Referer) over the
// collector's own Host header.
func pageHost(r *http.Request) string {
	for _, raw := range []string{r.Header.Get("Origin"), r.Referer()} {
		if raw == "" || raw == "null" {
			continue
		}
		if u, err := url.Parse(raw); err == nil && u.Hostname() != "" {
			return strings.ToLower(u.Hostname())
		}
	}
	host := r.Host
	if h, _, err := net.SplitHostPort(host); err == nil {
		host = h
	}
	return strings.ToLower(host)
}

// parseSize reads "WIDTHxHEIGHT".
func parseSize(raw string) (Size, bool) {
	w, h, found := strings.Cut(strings.TrimSpace(strings.ToLower(raw)), "x")
	if !found {
		return Size{}, false
	}
	width, err := strconv.Atoi(strings.TrimSpace(w))
	if err != nil || width < 0 {
		return Size{}, false
	}
	height, err := strconv.Atoi(strings.TrimSpace(h))
	if err != nil || height < 0 {
		return Size{}, false
	}
	return Size{Width: width, Height: height}, true
}

func clientHintViewport(h http.Header) (Size, bool) {
	w := h.Get("Sec-CH-Viewport-Width")
	if w == "" {
		w = h.Get("Viewport-Width")
	}
	height := h.Get("Sec-CH-Viewport-Height")
	if w == "" || height == "" {
		return Size{}, false
	}
	return parseSize(w + "x" + height)
}
