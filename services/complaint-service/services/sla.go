package services

import (
	"fmt"
	"time"

	"github.com/civicdesk/civic-portal/backend/services/complaint-service/models"
)

// SLA policy presets.
const (
	SLAPolicyPriority = "priority"
	SLAPolicyFixed48s = "fixed48s"
)

// SLAPolicy maps a complaint's priority to the time it may stay unresolved.
type SLAPolicy struct {
	Name       string
	Thresholds map[string]time.Duration
	Default    time.Duration
}

func PrioritySLAPolicy() SLAPolicy {
	return SLAPolicy{
		Name: SLAPolicyPriority,
		Thresholds: map[string]time.Duration{
			models.PriorityHigh:   24 * time.Hour,
			models.PriorityMedium: 48 * time.Hour,
			models.PriorityLow:    72 * time.Hour,
		},
		Default: 48 * time.Hour,
	}
}

func Fixed48sSLAPolicy() SLAPolicy {
	return SLAPolicy{Name: SLAPolicyFixed48s, Default: 48 * time.Second}
}

// SLAPolicyByName returns the preset called name.
func SLAPolicyByName(name string) (SLAPolicy, error) {
	switch name {
	case "", SLAPolicyPriority:
		return PrioritySLAPolicy(), nil
	case SLAPolicyFixed48s:
		return Fixed48sSLAPolicy(), nil
	}
	return SLAPolicy{}, fmt.Errorf("unknown SLA policy %q", name)
}

func (p SLAPolicy) Threshold(priority string) time.Duration {
	if d, ok := p.Thresholds[models.NormalizePriority(priority)]; ok {
		return d
	}
	return p.Default
}

func (p SLAPolicy) Deadline(c *models.Complaint) time.Time {
	return c.CreatedAt.Add(p.Threshold(c.Priority))
}

// IsBreached reports whether c is still open past its deadline. Resolved and
// closed complaints are never breached.
func (p SLAPolicy) IsBreached(c *models.Complaint, now time.Time) bool {
	if !c.IsOpen() {
		return false
	}
	return !now.Before(p.Deadline(c))
}

// SecondsUntilDeadline is the whole number of seconds left before c breaches,
// never negative.
func (p SLAPolicy) SecondsUntilDeadline(c *models.Complaint, now time.Time) int64 {
	left := p.Deadline(c).Sub(now)
	if left <= 0 {
		return 0
	}
	return int64(left / time.Second)
}

func (p SLAPolicy) Status(c *models.Complaint, now time.Time) models.SLAStatus {
	return models.SLAStatus{
		ComplaintID:      c.ID,
		Policy:           p.Name,
		Breached:         p.IsBreached(c, now),
		SecondsRemaining: p.SecondsUntilDeadline(c, now),
		Deadline:         p.Deadline(c),
		EscalatedAt:      c.EscalatedAt,
	}
}
