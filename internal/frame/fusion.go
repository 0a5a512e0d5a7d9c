package frame

import (
	"sort"
	"strings"
	"time"

	"github.com/vthunder/memento/internal/types"
)

// Fuse merges a user's device frames into one view. Pure function of the
// frame slice: mobile wins location and mood, people union across active
// devices, activity and primary device go to the most recent writer.
func Fuse(user string, frames []types.ContextFrame, now time.Time, window time.Duration) types.UnifiedContext {
	uc := types.UnifiedContext{User: user, ComputedAt: now}

	var active []types.ContextFrame
	for _, f := range frames {
		if now.Sub(f.LastUpdated) <= window {
			active = append(active, f)
		}
	}
	uc.ActiveDevices = len(active)
	if len(active) == 0 {
		return uc
	}

	uc.Location, uc.LocationDevice = fuseDim(active, func(f *types.ContextFrame) *types.Dimension { return f.Location }, true)
	uc.Mood, _ = fuseDim(active, func(f *types.ContextFrame) *types.Dimension { return f.Mood }, true)
	uc.Activity, _ = fuseDim(active, func(f *types.ContextFrame) *types.Dimension { return f.Activity }, false)

	peopleSet := make(map[string]string)
	for _, f := range active {
		if f.People == nil {
			continue
		}
		for _, p := range f.People.Values {
			peopleSet[strings.ToLower(p)] = p
		}
	}
	keys := make([]string, 0, len(peopleSet))
	for k := range peopleSet {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		uc.People = append(uc.People, peopleSet[k])
	}

	primary := active[0]
	for _, f := range active[1:] {
		if f.LastUpdated.After(primary.LastUpdated) {
			primary = f
			continue
		}
		if f.LastUpdated.Equal(primary.LastUpdated) &&
			f.DeviceType.FusionPriority() > primary.DeviceType.FusionPriority() {
			primary = f
		}
	}
	uc.PrimaryDevice = primary.DeviceID
	uc.PrimaryDeviceType = primary.DeviceType
	return uc
}

// fuseDim picks one dimension value across active frames. With mobileWins,
// any mobile frame that set the dimension beats the rest; ties and the
// fallback go to the most recent setter.
func fuseDim(active []types.ContextFrame, get func(*types.ContextFrame) *types.Dimension, mobileWins bool) (string, string) {
	var best *types.Dimension
	var bestDevice string
	var bestMobile bool

	for i := range active {
		d := get(&active[i])
		if d == nil || d.Value == "" {
			continue
		}
		isMobile := active[i].DeviceType == types.DeviceMobile
		switch {
		case best == nil:
		case mobileWins && isMobile && !bestMobile:
		case mobileWins && !isMobile && bestMobile:
			continue
		case d.SetAt.After(best.SetAt):
		default:
			continue
		}
		best = d
		bestDevice = active[i].DeviceID
		bestMobile = isMobile
	}
	if best == nil {
		return "", ""
	}
	return best.Value, bestDevice
}
