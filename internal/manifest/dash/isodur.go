package dash

import (
	"fmt"
	"regexp"
	"strconv"
	"time"
)

// isoDurationRe matches ISO-8601 durations of the form PnYnMnDTnHnMnS,
// restricted to the day/hour/minute/second components DASH actually
// uses (PT...). Year and month components are not accepted: a duration
// carrying them does not match, since MPD durations never carry them in
// practice.
var isoDurationRe = regexp.MustCompile(`^P(?:(\d+)D)?(?:T(?:(\d+(?:\.\d+)?)H)?(?:(\d+(?:\.\d+)?)M)?(?:(\d+(?:\.\d+)?)S)?)?$`)

// ParseISODuration parses a DASH/MPD ISO-8601 duration string such as
// "PT12.00S" or "PT1H2M3.5S". Generalizes the teacher's ad-hoc
// strings.TrimPrefix(s, "PT")-then-ParseDuration approach (which only
// handled a single component) into a full PnDTnHnMnS parser.
func ParseISODuration(s string) (time.Duration, error) {
	if s == "" {
		return 0, nil
	}
	m := isoDurationRe.FindStringSubmatch(s)
	if m == nil {
		return 0, fmt.Errorf("invalid ISO-8601 duration: %q", s)
	}
	var total time.Duration
	if m[1] != "" {
		days, _ := strconv.ParseFloat(m[1], 64)
		total += time.Duration(days * 24 * float64(time.Hour))
	}
	if m[2] != "" {
		hours, _ := strconv.ParseFloat(m[2], 64)
		total += time.Duration(hours * float64(time.Hour))
	}
	if m[3] != "" {
		mins, _ := strconv.ParseFloat(m[3], 64)
		total += time.Duration(mins * float64(time.Minute))
	}
	if m[4] != "" {
		secs, _ := strconv.ParseFloat(m[4], 64)
		total += time.Duration(secs * float64(time.Second))
	}
	return total, nil
}

// GetStart returns the Period's start time as a time.Duration.
func (p *Period) GetStart() (time.Duration, error) {
	return ParseISODuration(p.Start)
}

// GetMinimumUpdatePeriod returns the MPD's refresh interval.
func (m *MPD) GetMinimumUpdatePeriod() (time.Duration, error) {
	return ParseISODuration(m.MinimumUpdatePeriod)
}

// GetMaxSegmentDuration returns the MPD's declared maximum segment duration.
func (m *MPD) GetMaxSegmentDuration() (time.Duration, error) {
	return ParseISODuration(m.MaxSegmentDuration)
}

// GetMediaPresentationDuration returns the MPD's total duration, for VOD.
func (m *MPD) GetMediaPresentationDuration() (time.Duration, error) {
	return ParseISODuration(m.MediaPresentationDuration)
}

// GetSuggestedPresentationDelay returns the live-edge delay suggestion.
func (m *MPD) GetSuggestedPresentationDelay() (time.Duration, error) {
	return ParseISODuration(m.SuggestedPresentationDelay)
}

// GetTimeShiftBufferDepth returns the live availability window length.
func (m *MPD) GetTimeShiftBufferDepth() (time.Duration, error) {
	return ParseISODuration(m.TimeShiftBufferDepth)
}
