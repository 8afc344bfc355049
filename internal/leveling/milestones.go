package leveling

import (
	"errors"
	"fmt"
	"strings"

	"warden-bot/internal/config"
)

var ErrInvalidConfiguration = errors.New("invalid milestone configuration")

type Milestone struct {
	Threshold int64
	RoleName  string
	Color     int
}

// MilestonesFromConfig converts and validates the configured ladder.
func MilestonesFromConfig(entries []config.MilestoneConfig) ([]Milestone, error) {
	milestones := make([]Milestone, 0, len(entries))
	for _, entry := range entries {
		milestones = append(milestones, Milestone{
			Threshold: entry.Threshold,
			RoleName:  strings.TrimSpace(entry.Role),
			Color:     entry.Color,
		})
	}
	if err := ValidateMilestones(milestones); err != nil {
		return nil, err
	}
	return milestones, nil
}

// ValidateMilestones requires positive, strictly ascending thresholds and
// non-empty, distinct role names.
func ValidateMilestones(milestones []Milestone) error {
	if len(milestones) == 0 {
		return fmt.Errorf("%w: no milestones", ErrInvalidConfiguration)
	}
	roles := make(map[string]struct{}, len(milestones))
	for i, m := range milestones {
		if m.Threshold <= 0 {
			return fmt.Errorf("%w: threshold %d must be positive", ErrInvalidConfiguration, m.Threshold)
		}
		if i > 0 && m.Threshold <= milestones[i-1].Threshold {
			return fmt.Errorf("%w: threshold %d does not ascend after %d", ErrInvalidConfiguration, m.Threshold, milestones[i-1].Threshold)
		}
		if m.RoleName == "" {
			return fmt.Errorf("%w: threshold %d has no role name", ErrInvalidConfiguration, m.Threshold)
		}
		key := strings.ToLower(m.RoleName)
		if _, ok := roles[key]; ok {
			return fmt.Errorf("%w: role %q used twice", ErrInvalidConfiguration, m.RoleName)
		}
		roles[key] = struct{}{}
	}
	return nil
}

// EvaluateMilestones returns every milestone with oldCount < Threshold <= newCount,
// in ascending order.
func EvaluateMilestones(milestones []Milestone, oldCount, newCount int64) []Milestone {
	if newCount <= oldCount {
		return nil
	}
	var crossed []Milestone
	for _, m := range milestones {
		if m.Threshold > newCount {
			break
		}
		if m.Threshold > oldCount {
			crossed = append(crossed, m)
		}
	}
	return crossed
}

// Progress locates count on the ladder. current is nil below the first
// threshold, next is nil past the last one.
func Progress(milestones []Milestone, count int64) (current, next *Milestone) {
	for i := range milestones {
		if milestones[i].Threshold <= count {
			current = &milestones[i]
			continue
		}
		next = &milestones[i]
		break
	}
	return current, next
}
