package domain

import (
	"fmt"
	"strings"
	"time"
)

// AlertRule decides which users of a role hear about a fire and how it is phrased.
type AlertRule struct {
	ID              int      `json:"id"`
	Name            string   `json:"name"`
	TargetRole      UserRole `json:"target_role"`
	MinConfidence   float64  `json:"min_confidence"`
	MaxDistanceKm   float64  `json:"max_distance_km"`
	AllowFeedback   bool     `json:"allow_feedback"`
	TitleTemplate   string   `json:"title_template"`
	MessageTemplate string   `json:"message_template"`
	IsActive        bool     `json:"is_active"`
}

// Matches reports whether the rule applies to a user of role at distanceKm
// from a fire of the given confidence.
func (r AlertRule) Matches(role UserRole, distanceKm, confidence float64) bool {
	return r.IsActive &&
		r.TargetRole == role &&
		distanceKm <= r.MaxDistanceKm &&
		confidence >= r.MinConfidence
}

// ResolveRule picks the rule for a user. Rules must be in declaration order.
// The narrowest matching radius wins; equal radii fall back to declaration order.
func ResolveRule(rules []AlertRule, role UserRole, distanceKm, confidence float64) (AlertRule, bool) {
	var (
		best  AlertRule
		found bool
	)
	for _, r := range rules {
		if !r.Matches(role, distanceKm, confidence) {
			continue
		}
		if !found || r.MaxDistanceKm < best.MaxDistanceKm {
			best = r
			found = true
		}
	}
	return best, found
}

// TemplateValues are the placeholders available to rule templates.
type TemplateValues struct {
	DistanceKm float64
	Confidence float64
	Location   string
	At         time.Time
}

// RenderTemplate substitutes {Distance}, {Confidence}, {Time}, {Date} and
// {Location}. Unknown placeholders are left in place.
func RenderTemplate(tmpl string, v TemplateValues) string {
	at := v.At
	if at.IsZero() {
		at = Now()
	}
	r := strings.NewReplacer(
		"{Distance}", fmt.Sprintf("%.1f", v.DistanceKm),
		"{Confidence}", fmt.Sprintf("%.0f", v.Confidence),
		"{Time}", at.Format("15:04"),
		"{Date}", at.Format("02.01.2006"),
		"{Location}", v.Location,
	)
	return r.Replace(tmpl)
}

// DefaultUserMessage is used when a role has no message template.
func DefaultUserMessage(distanceKm, confidence float64) string {
	return fmt.Sprintf("Fire detected %.1f km from you. Confidence: %.0f%%", distanceKm, confidence)
}
