package browser

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDiffPageStates(t *testing.T) {
	base := func() *pageState {
		return &pageState{
			URL:        "https://app.local/home",
			Title:      "Home",
			TextLength: 5000,
			FormCount:  1,
		}
	}

	t.Run("identical states report no change", func(t *testing.T) {
		changed, details := diffPageStates(base(), base())
		assert.False(t, changed)
		assert.Empty(t, details)
	})

	t.Run("nil snapshots count as changed", func(t *testing.T) {
		changed, details := diffPageStates(nil, base())
		assert.True(t, changed)
		assert.Equal(t, []string{"page state unavailable"}, details)

		changed, _ = diffPageStates(base(), nil)
		assert.True(t, changed)
	})

	t.Run("navigation detected", func(t *testing.T) {
		after := base()
		after.URL = "https://app.local/checkout"
		changed, details := diffPageStates(base(), after)
		assert.True(t, changed)
		assert.Contains(t, details, "navigated to https://app.local/checkout")
	})

	t.Run("modal open and close", func(t *testing.T) {
		after := base()
		after.ModalCount = 1
		_, details := diffPageStates(base(), after)
		assert.Contains(t, details, "modal opened")

		before := base()
		before.ModalCount = 2
		after = base()
		after.ModalCount = 1
		_, details = diffPageStates(before, after)
		assert.Contains(t, details, "modal closed")
	})

	t.Run("small text jitter ignored", func(t *testing.T) {
		after := base()
		after.TextLength = base().TextLength + textChangeThreshold
		changed, _ := diffPageStates(base(), after)
		assert.False(t, changed)
	})

	t.Run("large text delta detected", func(t *testing.T) {
		after := base()
		after.TextLength = base().TextLength + 500
		changed, details := diffPageStates(base(), after)
		assert.True(t, changed)
		assert.Contains(t, details, "content changed (+500 chars)")
	})

	t.Run("scroll and focus movement", func(t *testing.T) {
		after := base()
		after.ScrollY = 640
		after.FocusedTag = "INPUT"
		_, details := diffPageStates(base(), after)
		assert.Contains(t, details, "scrolled to (0, 640)")
		assert.Contains(t, details, "focus moved")
	})

	t.Run("alert appearing is a change but disappearing is not", func(t *testing.T) {
		after := base()
		after.AlertCount = 1
		changed, details := diffPageStates(base(), after)
		assert.True(t, changed)
		assert.Contains(t, details, "alert appeared")

		before := base()
		before.AlertCount = 1
		changed, _ = diffPageStates(before, base())
		assert.False(t, changed)
	})
}
