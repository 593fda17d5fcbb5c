package types

import (
	"fmt"
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

// Human-readable labels for the closed enums. Every enum value has an
// explicit entry; deriveLabel only covers stage tokens, which are open-ended
// by ordinal.

var runStateLabels = map[RunState]string{
	StatePending:                 "Pending",
	StateAwaitingShortlistReview: "Awaiting Shortlist Review",
	StateAwaitingFinalReview:     "Awaiting Final Review",
	StateCompleted:               "Completed",
	StateFailed:                  "Failed",
}

func RunStateLabel(state RunState) string {
	if label, ok := runStateLabels[state]; ok {
		return label
	}
	if stage, ok := StageOf(state); ok {
		return stageNames[stage]
	}
	return deriveLabel(string(state))
}

// stageNames indexes display names by stage ordinal.
var stageNames = [TotalStages]string{
	"Brief Intake",
	"Market Scan",
	"Tone Mapping",
	"Root Mining",
	"Name Generation",
	"Shortlist Scoring",
	"Shortlist Assembly",
	"Linguistic Screen",
	"Trademark Screen",
	"Domain Screen",
	"Final Scoring",
	"Report Assembly",
}

// StageName returns the display name for a stage ordinal.
func StageName(stage int) string {
	if stage >= 0 && stage < TotalStages {
		return stageNames[stage]
	}
	return fmt.Sprintf("Stage %d", stage)
}

var stageStatusLabels = map[StageStatus]string{
	StagePending:  "Pending",
	StageRunning:  "Running",
	StageComplete: "Complete",
	StageFailed:   "Failed",
}

func StageStatusLabel(status StageStatus) string {
	if label, ok := stageStatusLabels[status]; ok {
		return label
	}
	return deriveLabel(string(status))
}

var connectionStateLabels = map[ConnectionState]string{
	ConnectionIdle:         "Idle",
	ConnectionLive:         "Live",
	ConnectionReconnecting: "Reconnecting",
	ConnectionPolling:      "Polling",
}

func ConnectionStateLabel(state ConnectionState) string {
	if label, ok := connectionStateLabels[state]; ok {
		return label
	}
	return deriveLabel(string(state))
}

var clearanceDimensionLabels = map[ClearanceDimension]string{
	ClearanceTrademark: "Trademark",
	ClearanceDomain:    "Domain",
	ClearanceSocial:    "Social",
}

func ClearanceDimensionLabel(dim ClearanceDimension) string {
	if label, ok := clearanceDimensionLabels[dim]; ok {
		return label
	}
	return deriveLabel(string(dim))
}

var clearanceStatusLabels = map[ClearanceStatus]string{
	ClearancePending:  "Pending",
	ClearanceClear:    "Clear",
	ClearanceConflict: "Conflict",
	ClearanceUnknown:  "Unknown",
}

func ClearanceStatusLabel(status ClearanceStatus) string {
	if label, ok := clearanceStatusLabels[status]; ok {
		return label
	}
	return deriveLabel(string(status))
}

var titleCaser = cases.Title(language.English)

func deriveLabel(token string) string {
	return titleCaser.String(strings.ReplaceAll(token, "_", " "))
}
