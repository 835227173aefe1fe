package domain

import "strings"

var transitions = map[PipelineStatus][]PipelineStatus{
	PipelineStatusPending:       {PipelineStatusQualified, PipelineStatusDead},
	PipelineStatusQualified:     {PipelineStatusDemoScheduled, PipelineStatusNurture, PipelineStatusDead},
	PipelineStatusDemoScheduled: {PipelineStatusMeetingHeld, PipelineStatusNoShow, PipelineStatusDead},
	PipelineStatusMeetingHeld:   {PipelineStatusWon, PipelineStatusLost, PipelineStatusNurture, PipelineStatusDead},
	PipelineStatusLost:          {PipelineStatusNurture},
	PipelineStatusNoShow:        {PipelineStatusDemoScheduled, PipelineStatusNurture, PipelineStatusDead},
	PipelineStatusNurture:       {PipelineStatusDemoScheduled, PipelineStatusDead},
	PipelineStatusWon:           {},
	PipelineStatusDead:          {},
}

func (s PipelineStatus) Valid() bool {
	_, ok := transitions[s]
	return ok
}

// AllowedTransitions returns the statuses reachable from s in one step.
func AllowedTransitions(s PipelineStatus) []PipelineStatus {
	allowed := transitions[s]
	out := make([]PipelineStatus, len(allowed))
	copy(out, allowed)
	return out
}

func CanTransition(from, to PipelineStatus) bool {
	for _, candidate := range transitions[from] {
		if candidate == to {
			return true
		}
	}
	return false
}

func formatStatuses(statuses []PipelineStatus) string {
	if len(statuses) == 0 {
		return "none"
	}
	parts := make([]string, 0, len(statuses))
	for _, s := range statuses {
		parts = append(parts, string(s))
	}
	return strings.Join(parts, ", ")
}
