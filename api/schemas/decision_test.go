package schemas

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalizeAction(t *testing.T) {
	tests := []struct {
		raw  string
		want Action
	}{
		{"click", ActionClick},
		{"Click", ActionClick},
		{"  TAP  ", ActionClick},
		{"press", ActionClick},
		{"fill", ActionFill},
		{"type", ActionFill},
		{"enter", ActionFill},
		{"select", ActionFill},
		{"choose", ActionFill},
		{"input", ActionFill},
		{"navigate", ActionNavigate},
		{"goto", ActionNavigate},
		{"visit", ActionNavigate},
		{"open", ActionNavigate},
		{"load", ActionNavigate},
		{"scroll", ActionScroll},
		{"swipe", ActionScroll},
		{"keyboard", ActionKeyboard},
		{"keypress", ActionKeyboard},
		{"key", ActionKeyboard},
		{"wait", ActionWait},
		{"pause", ActionWait},
		{"sleep", ActionWait},
		{"done", ActionDone},
		{"complete", ActionDone},
		{"finished", ActionDone},
		{"success", ActionDone},
		{"stuck", ActionStuck},
		{"blocked", ActionStuck},
		{"impossible", ActionStuck},
	}
	for _, tt := range tests {
		t.Run(tt.raw, func(t *testing.T) {
			got, err := NormalizeAction(tt.raw)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestNormalizeAction_MultiWordFallsBackToFirstToken(t *testing.T) {
	tests := []struct {
		raw  string
		want Action
	}{
		{"go to the checkout page", ActionNavigate},
		{"click on the submit button", ActionClick},
		{"type into the search box", ActionFill},
		{"scroll down", ActionScroll},
		{"wait for the spinner", ActionWait},
	}
	for _, tt := range tests {
		got, err := NormalizeAction(tt.raw)
		require.NoError(t, err, "raw=%q", tt.raw)
		assert.Equal(t, tt.want, got, "raw=%q", tt.raw)
	}
}

func TestNormalizeAction_Unknown(t *testing.T) {
	for _, raw := range []string{"", "   ", "teleport", "frobnicate the widget"} {
		_, err := NormalizeAction(raw)
		assert.Error(t, err, "raw=%q", raw)
	}

	_, err := NormalizeAction("hover")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "hover")
}

func TestDecisionIsTerminal(t *testing.T) {
	assert.True(t, Decision{Action: ActionDone}.IsTerminal())
	assert.True(t, Decision{Action: ActionStuck}.IsTerminal())
	assert.False(t, Decision{Action: ActionClick}.IsTerminal())
	assert.False(t, Decision{Action: ActionWait}.IsTerminal())
}

func TestDecisionShortTarget(t *testing.T) {
	short := Decision{Target: "Add to cart"}
	assert.Equal(t, "Add to cart", short.ShortTarget())

	long := Decision{Target: strings.Repeat("x", 120)}
	assert.Len(t, long.ShortTarget(), 50)
	assert.True(t, strings.HasPrefix(long.Target, long.ShortTarget()))
}
