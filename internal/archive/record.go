// Package archive defines the campaign archive record: the durable metadata
// unit that drives dispatch decisions (status, schedule, destination).
package archive

import (
	"fmt"
	"regexp"
	"time"

	"github.com/google/uuid"
)

// Status is the delivery status of a campaign record.
type Status string

const (
	// StatusPending means the campaign was archived but not yet test-sent.
	StatusPending Status = "pending"
	// StatusTested means a test send succeeded and the campaign is eligible
	// for production dispatch.
	StatusTested Status = "tested"
	// StatusDelivered means an immediate production send succeeded. Terminal.
	StatusDelivered Status = "delivered"
	// StatusWaitingSchedule means production dispatch deferred the send to the
	// scheduled trigger because scheduledAt is in the future.
	StatusWaitingSchedule Status = "waiting-schedule-delivery"
	// StatusScheduleDelivered means the scheduled trigger sent the campaign. Terminal.
	StatusScheduleDelivered Status = "schedule-delivered"
)

// Terminal reports whether no further send attempt may occur for this status.
func (s Status) Terminal() bool {
	return s == StatusDelivered || s == StatusScheduleDelivered
}

// Known reports whether s is one of the defined statuses.
func (s Status) Known() bool {
	switch s {
	case StatusPending, StatusTested, StatusDelivered, StatusWaitingSchedule, StatusScheduleDelivered:
		return true
	}
	return false
}

// Record is one campaign's config.json. Older records predate the status
// field; a missing status reads as pending.
type Record struct {
	Subject     string     `json:"subject"`
	SegmentID   string     `json:"segmentId,omitempty"`
	AudienceID  string     `json:"audienceId,omitempty"`
	ScheduledAt *time.Time `json:"scheduledAt"`
	SentAt      *time.Time `json:"sentAt"`
	Status      Status     `json:"status,omitempty"`
}

var audienceIDPattern = regexp.MustCompile(`^aud_[a-zA-Z0-9]+$`)

// Validate checks the record against the config.json schema: non-empty
// subject, at least one well-formed destination identifier, and a known
// (or absent) status.
func (r *Record) Validate() error {
	if r.Subject == "" {
		return fmt.Errorf("subject is required")
	}
	if r.SegmentID == "" && r.AudienceID == "" {
		return fmt.Errorf("either segmentId or audienceId is required")
	}
	if r.SegmentID != "" {
		if _, err := uuid.Parse(r.SegmentID); err != nil {
			return fmt.Errorf("segmentId %q is not a valid UUID", r.SegmentID)
		}
	}
	if r.AudienceID != "" && !audienceIDPattern.MatchString(r.AudienceID) {
		return fmt.Errorf("audienceId %q is malformed (expected aud_...)", r.AudienceID)
	}
	if r.Status != "" && !r.Status.Known() {
		return fmt.Errorf("unknown status %q", r.Status)
	}
	return nil
}

// EffectiveStatus normalizes a missing status to pending.
func (r *Record) EffectiveStatus() Status {
	if r.Status == "" {
		return StatusPending
	}
	return r.Status
}

// Destination returns the production send target: segmentId when present,
// otherwise the legacy audienceId.
func (r *Record) Destination() string {
	if r.SegmentID != "" {
		return r.SegmentID
	}
	return r.AudienceID
}

// Due reports whether the record is eligible for the scheduled trigger at
// the given instant: unsent, waiting on its schedule, and inside the lookback
// window. The window is closed at scheduledAt and open at scheduledAt+window,
// so a record is due exactly once per cadence as long as the trigger fires at
// least every window duration.
func (r *Record) Due(now time.Time, window time.Duration) bool {
	if r.SentAt != nil || r.ScheduledAt == nil {
		return false
	}
	if r.EffectiveStatus() != StatusWaitingSchedule {
		return false
	}
	elapsed := now.Sub(*r.ScheduledAt)
	return elapsed >= 0 && elapsed < window
}
