package logging

import "strings"

// FormatSubject builds the entry/stage subject string used in console output.
func FormatSubject(entryID, stage string) string {
	entryID = strings.TrimSpace(entryID)
	stage = strings.TrimSpace(stage)
	switch {
	case entryID != "" && stage != "":
		return entryID + " (" + stage + ")"
	case entryID != "":
		return entryID
	default:
		return stage
	}
}
