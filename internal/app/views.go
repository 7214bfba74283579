package app

import (
	"nongsaijai/api/internal/risk"
	"nongsaijai/api/internal/search"
	"nongsaijai/api/internal/store"
)

func chatSessionView(item store.ChatSession) map[string]any {
	return map[string]any{
		"id":         item.ID,
		"owner_id":   item.OwnerID,
		"owner_name": item.OwnerName,
		"created_at": item.CreatedAt,
		"updated_at": item.UpdatedAt,
	}
}

func messageView(msg store.Message) map[string]any {
	return map[string]any{
		"id":         msg.ID,
		"session_id": msg.SessionID,
		"role":       msg.Role,
		"content":    msg.Content,
		"created_at": msg.CreatedAt,
	}
}

// sessionView is the admin projection: AI fields next to the effective ones.
func sessionView(item store.EffectiveSession) map[string]any {
	view := map[string]any{
		"id":            item.ID,
		"owner_id":      item.OwnerID,
		"owner_name":    item.OwnerName,
		"proj_code":     item.ProjectCode,
		"ai_status":     item.Status,
		"ai_category":   item.Category,
		"status":        item.Effective.Status,
		"category":      item.Effective.Category,
		"summary":       item.Effective.Summary,
		"has_override":  item.Effective.HasOverride,
		"overridden_at": item.Effective.OverriddenAt,
		"overridden_by": nilIfEmpty(item.OverriddenBy),
		"risk_scores":   item.RiskScores,
		"severity":      nilIfEmpty(string(risk.Severity(item.RiskScores))),
		"admin_opened":  item.AdminOpened,
		"classified_at": item.ClassifiedAt,
		"created_at":    item.CreatedAt,
		"updated_at":    item.UpdatedAt,
	}
	if max, ok := item.RiskScores.MaxScore(); ok {
		view["max_score"] = max
	}
	return view
}

func overrideView(item store.SessionOverride) map[string]any {
	return map[string]any{
		"session_id":    item.SessionID,
		"status":        item.Status,
		"category":      item.Category,
		"notes":         item.Notes,
		"overridden_by": item.OverriddenBy,
		"overridden_at": item.OverriddenAt,
		"is_active":     item.IsActive,
	}
}

func sessionRecord(item store.EffectiveSession) search.SessionRecord {
	record := search.SessionRecord{
		ID:        item.ID,
		Summary:   item.Effective.Summary,
		OwnerName: item.OwnerName,
	}
	if item.ProjectCode != nil {
		record.ProjectCode = *item.ProjectCode
	}
	if item.Effective.Status != nil {
		record.Status = string(*item.Effective.Status)
	}
	if item.Effective.Category != nil {
		record.Category = string(*item.Effective.Category)
	}
	return record
}

func nilIfEmpty(value string) any {
	if value == "" {
		return nil
	}
	return value
}
