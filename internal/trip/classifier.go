package trip

import "strings"

// Destination persistence action selected for one event. The zero value
// Undecided is returned when processing fails before classification.
type Destination int

const (
	Undecided Destination = iota
	NewTrip
	EndTrip
	TripPoint
	TripAlert
	IdleActivity
	IgnoredIgnitionOn
	IgnoredIgnitionOff
)

var destinationNames = [...]string{
	Undecided:          "undecided",
	NewTrip:            "new_trip",
	EndTrip:            "end_trip",
	TripPoint:          "trip_point",
	TripAlert:          "trip_alert",
	IdleActivity:       "idle_activity",
	IgnoredIgnitionOn:  "ignored_ignition_on",
	IgnoredIgnitionOff: "ignored_ignition_off",
}

func (d Destination) String() string {
	if d < 0 || int(d) >= len(destinationNames) {
		return "unknown"
	}
	return destinationNames[d]
}

// ignition vocabulary, vendor synonyms folded together
var (
	ignitionOnAlerts  = map[string]struct{}{"ENGINE ON": {}, "TURN ON": {}}
	ignitionOffAlerts = map[string]struct{}{"ENGINE OFF": {}, "TURN OFF": {}}
)

// vocabulary matching is exact after upper-casing, surrounding whitespace included
func normalizeAlert(alert *string) string {
	if alert == nil {
		return ""
	}
	return strings.ToUpper(*alert)
}

func hasAlert(alert *string) bool {
	return alert != nil && strings.TrimSpace(*alert) != ""
}

// IsIgnitionOn reports whether the alert is an ignition-on signal
func IsIgnitionOn(alert *string) bool {
	_, ok := ignitionOnAlerts[normalizeAlert(alert)]
	return ok
}

// IsIgnitionOff reports whether the alert is an ignition-off signal
func IsIgnitionOff(alert *string) bool {
	_, ok := ignitionOffAlerts[normalizeAlert(alert)]
	return ok
}

// Classify maps the alert signal and the trip-active flag to a destination.
// Whitespace-only alerts count as absent; padded ignition words are plain
// alerts.
func Classify(alert *string, tripActive bool) Destination {
	switch {
	case IsIgnitionOn(alert):
		if tripActive {
			return IgnoredIgnitionOn
		}
		return NewTrip
	case IsIgnitionOff(alert):
		if tripActive {
			return EndTrip
		}
		return IgnoredIgnitionOff
	case !tripActive:
		return IdleActivity
	case hasAlert(alert):
		return TripAlert
	default:
		return TripPoint
	}
}
