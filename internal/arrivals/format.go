package arrivals

import (
	"fmt"
	"strings"
	"time"

	"buszy.nrfz.sg/internal/clock"
	"buszy.nrfz.sg/internal/prefs"
)

// ArrivedMarker is shown once the predicted arrival is now or past.
const ArrivedMarker = `<span class="arrival-now">Arr</span>`

const smallOpen = `<span style="font-size: 0.7em;">`

// FormatArrival renders one predicted arrival for display. Any arrival at or
// before now is the arrived marker whatever the format. The incoming variant
// de-emphasises the unit (minutes) or the AM/PM suffix (12-hour).
// Unknown formats render as 24-hour.
func FormatArrival(arrival, now time.Time, format string, incoming bool) string {
	diff := arrival.Sub(now)
	if diff <= 0 {
		return ArrivedMarker
	}

	switch format {
	case prefs.FormatMinutes:
		minutes := int64((diff + time.Minute - 1) / time.Minute)
		unit := "mins"
		if minutes == 1 {
			unit = "min"
		}
		if incoming {
			return fmt.Sprintf("%d%s %s</span>", minutes, smallOpen, unit)
		}
		return fmt.Sprintf("%d %s", minutes, unit)

	case prefs.Format12Hour:
		s := arrival.In(clock.Singapore).Format("03:04 PM")
		if incoming {
			if hm, suffix, ok := strings.Cut(s, " "); ok {
				return hm + smallOpen + suffix + "</span>"
			}
		}
		return s

	default:
		return arrival.In(clock.Singapore).Format("15:04")
	}
}
