package oracle

import (
	"go.uber.org/zap"

	"github.com/specterhq/specterqa/api/schemas"
)

// simpleActions succeed or fail unambiguously; after one of them lands, the
// cheap tier is trusted with the next decision.
var simpleActions = map[schemas.Action]bool{
	schemas.ActionClick:    true,
	schemas.ActionNavigate: true,
	schemas.ActionScroll:   true,
	schemas.ActionWait:     true,
	schemas.ActionDone:     true,
	schemas.ActionStuck:    true,
}

// tierRouter decides which model tier answers the next decision request.
// State is per-step: the decider resets it when a new step begins.
type tierRouter struct {
	logger *zap.Logger
	// powerfulEveryN forces a periodic powerful-tier sanity check.
	powerfulEveryN int
	// forceNextPowerful is latched by fill decisions and UX commentary.
	forceNextPowerful bool
}

func newTierRouter(logger *zap.Logger, powerfulEveryN int) *tierRouter {
	if powerfulEveryN <= 0 {
		powerfulEveryN = 5
	}
	return &tierRouter{
		logger:         logger.Named("tier_router"),
		powerfulEveryN: powerfulEveryN,
	}
}

// reset clears per-step routing state.
func (r *tierRouter) reset() {
	r.forceNextPowerful = false
}

// nextTier applies the routing rules in priority order. An explicit force
// from the caller (stuck escalation) wins over everything.
func (r *tierRouter) nextTier(req schemas.DecideRequest) schemas.ModelTier {
	switch {
	case req.ForceTier != "":
		return req.ForceTier
	case req.ActionIndex == 0:
		// The first decision of a step sets the trajectory; never skimp on it.
		return schemas.TierPowerful
	case (req.ActionIndex+1)%r.powerfulEveryN == 0:
		// Periodic powerful-tier checkpoint regardless of recent history.
		return schemas.TierPowerful
	case r.forceNextPowerful:
		return schemas.TierPowerful
	case req.Prev != nil && req.Prev.Success && simpleActions[req.Prev.Action]:
		return schemas.TierFast
	default:
		return schemas.TierPowerful
	}
}

// observe records the decision that was just made, updating the latch that
// feeds nextTier. Fills and UX commentary need the stronger model's
// continuity on the following turn.
func (r *tierRouter) observe(d schemas.Decision) {
	r.forceNextPowerful = d.Action == schemas.ActionFill || d.UXNotes != ""
}
