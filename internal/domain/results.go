package domain

import "fmt"

type AddResult struct {
	Added           int `json:"added_count"`
	SkippedExisting int `json:"skipped_existing"`
}

func (r AddResult) Summary() string {
	return fmt.Sprintf("Timeslots: %d added (%d existing)", r.Added, r.SkippedExisting)
}

type RemovalResult struct {
	Removed       int `json:"removed_count"`
	SkippedBooked int `json:"skipped_booked_count"`
}

func (r RemovalResult) Summary() string {
	msg := fmt.Sprintf("Timeslots: %d removed", r.Removed)
	switch r.SkippedBooked {
	case 0:
		return msg
	case 1:
		return msg + "; 1 matching slot was already booked and was kept"
	default:
		return msg + fmt.Sprintf("; %d matching slots were already booked and were kept", r.SkippedBooked)
	}
}
