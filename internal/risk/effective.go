package risk

import "time"

// AIFields is what the external classifier wrote onto a session.
type AIFields struct {
	Status   *Status
	Category *Category
	Summary  string
}

// Override is an admin decision as stored, one per session.
type Override struct {
	Status       Status
	Category     *Category
	Notes        *Notes
	OverriddenBy string
	OverriddenAt time.Time
	IsActive     bool
}

// Effective is the admin-visible projection of a session.
type Effective struct {
	Status       *Status    `json:"status"`
	Category     *Category  `json:"category"`
	Summary      string     `json:"summary"`
	HasOverride  bool       `json:"has_override"`
	OverriddenAt *time.Time `json:"overridden_at"`
}

// Resolve merges the AI classification with an optional override. An
// inactive override is treated as absent. The summary is always the AI
// narrative; an active override without a category keeps the AI category,
// matching the COALESCE in v_effective_sessions.
func Resolve(ai AIFields, override *Override) Effective {
	effective := Effective{
		Status:   ai.Status,
		Category: ai.Category,
		Summary:  ai.Summary,
	}
	if override == nil || !override.IsActive {
		return effective
	}

	status := override.Status
	effective.Status = &status
	if override.Category != nil {
		category := *override.Category
		effective.Category = &category
	}
	overriddenAt := override.OverriddenAt
	effective.HasOverride = true
	effective.OverriddenAt = &overriddenAt
	return effective
}
