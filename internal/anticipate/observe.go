package anticipate

import (
	"encoding/hex"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/zeebo/blake3"

	"github.com/vthunder/memento/internal/types"
)

// TimeOfDay buckets an instant: morning [5,12), afternoon [12,17),
// evening [17,21), night otherwise
func TimeOfDay(t time.Time) string {
	switch h := t.Hour(); {
	case h >= 5 && h < 12:
		return "morning"
	case h >= 12 && h < 17:
		return "afternoon"
	case h >= 17 && h < 21:
		return "evening"
	}
	return "night"
}

// LocationBucket hashes a normalized location into a short stable token.
// Different raw spellings of the same place land in the same bucket.
func LocationBucket(location string) string {
	location = strings.ToLower(strings.TrimSpace(location))
	if location == "" {
		return ""
	}
	sum := blake3.Sum256([]byte(location))
	return hex.EncodeToString(sum[:4])
}

// FromFrame turns a context frame write into an observation sample
func FromFrame(f *types.ContextFrame, now time.Time) types.Observation {
	o := types.Observation{
		ID:         uuid.NewString(),
		User:       f.User,
		ObservedAt: now,
		TimeOfDay:  TimeOfDay(now),
		DayOfWeek:  now.Weekday().String(),
	}
	if f.Location != nil {
		o.Location = f.Location.Value
		o.LocationBucket = LocationBucket(f.Location.Value)
	}
	if f.People != nil {
		o.People = f.People.Values
	}
	if f.Activity != nil {
		o.Activity = f.Activity.Value
	}
	if f.Calendar != nil {
		o.EventTitle = f.Calendar.Value
	}
	return o
}

// FromCalendar turns a caller-supplied calendar event into an observation
func FromCalendar(user string, ev types.CalendarEvent) types.Observation {
	return types.Observation{
		ID:             uuid.NewString(),
		User:           user,
		ObservedAt:     ev.StartsAt,
		TimeOfDay:      TimeOfDay(ev.StartsAt),
		DayOfWeek:      ev.StartsAt.Weekday().String(),
		Location:       ev.Location,
		LocationBucket: LocationBucket(ev.Location),
		People:         ev.Attendees,
		EventTitle:     ev.Title,
	}
}

// featureKey is the pattern bucket identity
func featureKey(o types.Observation) string {
	return o.TimeOfDay + "|" + o.DayOfWeek + "|" + o.LocationBucket + "|" + strings.ToLower(o.EventTitle)
}
