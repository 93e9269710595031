package domain

import (
	"maps"
	"strings"
)

// DeviceType classifies the client hardware of a session.
type DeviceType string

const (
	DeviceMobile  DeviceType = "mobile"
	DeviceTablet  DeviceType = "tablet"
	DeviceDesktop DeviceType = "desktop"
)

// DefaultUserSegment is applied when no segment was supplied.
const DefaultUserSegment = "anonymous"

// UserContext describes the current session and actor. Values are treated as
// immutable snapshots: Merge returns a new context and never mutates the receiver.
type UserContext struct {
	SessionID        string         `json:"sessionId" yaml:"session_id"`
	UserID           string         `json:"userId,omitempty" yaml:"user_id"`
	UserSegment      string         `json:"userSegment" yaml:"user_segment"`
	IsAuthenticated  bool           `json:"isAuthenticated" yaml:"is_authenticated"`
	DeviceType       DeviceType     `json:"deviceType" yaml:"device_type"`
	CustomAttributes map[string]any `json:"customAttributes,omitempty" yaml:"custom_attributes"`
}

// UserContextUpdate carries a partial context. Nil fields are left untouched.
type UserContextUpdate struct {
	SessionID        *string
	UserID           *string
	UserSegment      *string
	IsAuthenticated  *bool
	DeviceType       *DeviceType
	CustomAttributes map[string]any
}

// Merge applies the non-nil fields of u on top of a copy of c. Custom attributes are
// merged key by key.
func (c UserContext) Merge(u UserContextUpdate) UserContext {
	out := c.Clone()
	if u.SessionID != nil {
		out.SessionID = *u.SessionID
	}
	if u.UserID != nil {
		out.UserID = *u.UserID
	}
	if u.UserSegment != nil {
		out.UserSegment = *u.UserSegment
	}
	if u.IsAuthenticated != nil {
		out.IsAuthenticated = *u.IsAuthenticated
	}
	if u.DeviceType != nil {
		out.DeviceType = *u.DeviceType
	}
	if len(u.CustomAttributes) > 0 {
		if out.CustomAttributes == nil {
			out.CustomAttributes = make(map[string]any, len(u.CustomAttributes))
		}
		maps.Copy(out.CustomAttributes, u.CustomAttributes)
	}
	return out
}

// Clone returns a deep copy of the attribute map so callers may not alias it.
func (c UserContext) Clone() UserContext {
	out := c
	if c.CustomAttributes != nil {
		out.CustomAttributes = maps.Clone(c.CustomAttributes)
	}
	return out
}

// InferDeviceType derives the device class from a user-agent string. Unknown or empty
// agents are reported as desktop.
func InferDeviceType(userAgent string) DeviceType {
	ua := strings.ToLower(userAgent)
	switch {
	case strings.Contains(ua, "ipad"), strings.Contains(ua, "tablet"), strings.Contains(ua, "kindle"), strings.Contains(ua, "silk"):
		return DeviceTablet
	case strings.Contains(ua, "android") && !strings.Contains(ua, "mobile"):
		return DeviceTablet
	case strings.Contains(ua, "mobi"), strings.Contains(ua, "iphone"), strings.Contains(ua, "ipod"), strings.Contains(ua, "android"):
		return DeviceMobile
	default:
		return DeviceDesktop
	}
}

// Ptr returns a pointer to v. Handy for building UserContextUpdate literals.
func Ptr[T any](v T) *T {
	return &v
}
