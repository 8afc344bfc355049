package bot

import (
	"fmt"
	"time"

	"github.com/xhit/go-str2duration/v2"
)

// sanctionDurations are the choices offered by /mute and /tempban.
var sanctionDurations = []struct {
	Name  string
	Value string
}{
	{"1 hour", "1h"},
	{"6 hours", "6h"},
	{"12 hours", "12h"},
	{"1 day", "1d"},
	{"3 days", "3d"},
	{"7 days", "7d"},
}

const permanent = "permanent"

// parseSanctionDuration accepts one of the offered choices. permanent yields
// zero when allowed.
func parseSanctionDuration(value string, allowPermanent bool) (time.Duration, error) {
	if value == permanent && allowPermanent {
		return 0, nil
	}
	for _, choice := range sanctionDurations {
		if choice.Value == value {
			return str2duration.ParseDuration(value)
		}
	}
	return 0, fmt.Errorf("invalid duration %q", value)
}
