package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestUserContextMergeDoesNotMutateReceiver(t *testing.T) {
	base := UserContext{
		SessionID:        "sess-1",
		UserSegment:      DefaultUserSegment,
		DeviceType:       DeviceDesktop,
		CustomAttributes: map[string]any{"plan": "free"},
	}

	merged := base.Merge(UserContextUpdate{
		UserID:           Ptr("u-42"),
		UserSegment:      Ptr("enterprise"),
		IsAuthenticated:  Ptr(true),
		CustomAttributes: map[string]any{"plan": "pro", "region": "eu"},
	})

	assert.Equal(t, "sess-1", merged.SessionID)
	assert.Equal(t, "u-42", merged.UserID)
	assert.Equal(t, "enterprise", merged.UserSegment)
	assert.True(t, merged.IsAuthenticated)
	assert.Equal(t, map[string]any{"plan": "pro", "region": "eu"}, merged.CustomAttributes)

	assert.Equal(t, DefaultUserSegment, base.UserSegment)
	assert.Empty(t, base.UserID)
	assert.Equal(t, map[string]any{"plan": "free"}, base.CustomAttributes)
}

func TestInferDeviceType(t *testing.T) {
	tests := []struct {
		name string
		ua   string
		want DeviceType
	}{
		{"desktop chrome", "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/126.0 Safari/537.36", DeviceDesktop},
		{"iphone", "Mozilla/5.0 (iPhone; CPU iPhone OS 17_0 like Mac OS X) AppleWebKit/605.1.15 Mobile/15E148", DeviceMobile},
		{"android phone", "Mozilla/5.0 (Linux; Android 14; Pixel 8) AppleWebKit/537.36 Chrome/126.0 Mobile Safari/537.36", DeviceMobile},
		{"android tablet", "Mozilla/5.0 (Linux; Android 13; SM-X710) AppleWebKit/537.36 Chrome/126.0 Safari/537.36", DeviceTablet},
		{"ipad", "Mozilla/5.0 (iPad; CPU OS 17_0 like Mac OS X)", DeviceTablet},
		{"empty", "", DeviceDesktop},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, InferDeviceType(tt.ua))
		})
	}
}

func TestNotFoundErrorListsAvailableKeys(t *testing.T) {
	err := error(&NotFoundError{Key: "nonexistent", Available: []string{"authentication"}})

	require.ErrorIs(t, err, ErrDomainNotFound)
	assert.Contains(t, err.Error(), `"nonexistent"`)
	assert.Contains(t, err.Error(), "authentication")
}
