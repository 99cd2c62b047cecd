package rewrite

import "regexp"

// Unit words must stand alone or follow a number ("500m"). Boundaries are
// Unicode-aware so that "más" or "máximo" do not read as meters.
const (
	unitStart = `(?:^|[^\p{L}\p{N}_]|\d)`
	unitEnd   = `(?:$|[^\p{L}\p{N}_])`
)

var (
	metricUnitPattern = regexp.MustCompile(`(?i)` + unitStart +
		`(?:metros?|meters?|metres?|m|kms?|kil[oó]metros?|kilometers?|kilometres?)` + unitEnd)

	hectarePattern = regexp.MustCompile(`(?i)` + unitStart +
		`(?:hect[aá]reas?|hectares?)` + unitEnd)

	// Bare "ha" is also the Spanish verb ("ha perdido"), so it only counts
	// after a number or after "en"/"in".
	haUnitPattern = regexp.MustCompile(`(?i)(?:\d\s*|(?:^|[^\p{L}\p{N}_])(?:en|in)\s+)ha` + unitEnd)
)

// MentionsMetricUnits reports whether text asks for distances in meters or
// kilometers.
func MentionsMetricUnits(text string) bool {
	return metricUnitPattern.MatchString(text)
}

// MentionsHectares reports whether text asks for areas in hectares.
func MentionsHectares(text string) bool {
	return hectarePattern.MatchString(text) || haUnitPattern.MatchString(text)
}
