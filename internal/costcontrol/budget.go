package costcontrol

// costEpsilon absorbs float rounding so that spending exactly up to the limit
// (0.80 + 0.20 against 1.00) is allowed.
const costEpsilon = 1e-9

// WouldExceed reports whether spending cost on top of spent crosses limit.
// Reaching the limit exactly is allowed; limit <= 0 never exceeds.
func WouldExceed(limit, spent, cost float64) bool {
	if limit <= 0 {
		return false
	}
	return spent+cost > limit+costEpsilon
}

// Remaining returns how much of limit is left, floored at zero.
func Remaining(limit, spent float64) float64 {
	remaining := limit - spent
	if remaining < 0 {
		return 0
	}
	return remaining
}

// Budget computes the breakdown shown by the query surface and dashboard.
func Budget(limit, spent float64) BudgetStatus {
	if limit <= 0 {
		return BudgetStatus{Unlimited: true, Spent: spent}
	}
	return BudgetStatus{
		Limit:       limit,
		Spent:       spent,
		Remaining:   Remaining(limit, spent),
		PercentUsed: spent / limit * 100,
	}
}
