package logic

// SelectActiveRules returns the triggers whose hour equals hour, in input
// order. Minutes do not take part in dispatch.
func SelectActiveRules(triggers []Trigger, hour int) []Trigger {
	var active []Trigger
	for _, t := range triggers {
		if t.Time.Hour == hour {
			active = append(active, t)
		}
	}
	return active
}

// ShouldActuate reports whether any active rule's threshold is at or below
// temperature.
func ShouldActuate(active []Trigger, temperature float64) bool {
	_, ok := ChooseRule(active, temperature)
	return ok
}

// ChooseRule returns the qualifying rule with the highest threshold.
// Equal thresholds resolve to the rule that comes later in active.
func ChooseRule(active []Trigger, temperature float64) (Trigger, bool) {
	var (
		best  Trigger
		found bool
	)
	for _, t := range active {
		if t.RoomTempThreshold > temperature {
			continue
		}
		if !found || t.RoomTempThreshold >= best.RoomTempThreshold {
			best = t
			found = true
		}
	}
	return best, found
}

// ResolveRules returns the rule set in force for a date: the override's
// triggers when one exists (even if empty), otherwise the defaults.
func ResolveRules(defaults []Trigger, override *DateOverride) []Trigger {
	if override != nil {
		return override.Triggers
	}
	return defaults
}
