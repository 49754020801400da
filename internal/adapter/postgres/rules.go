package postgres

import (
	"context"
	"fmt"

	"github.com/couchcryptid/fireguard-alerts/internal/domain"
)

// ActiveRules returns active alert rules in declaration order.
func (s *Store) ActiveRules(ctx context.Context) ([]domain.AlertRule, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, name, target_role, min_confidence, max_distance_km,
			allow_feedback, title_template, message_template, is_active
		FROM alert_rules WHERE is_active ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("query alert rules: %w", err)
	}
	defer rows.Close()

	var out []domain.AlertRule
	for rows.Next() {
		var (
			r    domain.AlertRule
			role string
		)
		if err := rows.Scan(&r.ID, &r.Name, &role, &r.MinConfidence, &r.MaxDistanceKm,
			&r.AllowFeedback, &r.TitleTemplate, &r.MessageTemplate, &r.IsActive); err != nil {
			return nil, fmt.Errorf("scan alert rule: %w", err)
		}
		r.TargetRole = domain.UserRole(role)
		out = append(out, r)
	}
	return out, rows.Err()
}
