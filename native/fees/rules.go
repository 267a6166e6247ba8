package fees

import (
	"errors"
	"fmt"
)

// ErrInvalidRules is returned when a rule set violates the share bounds.
var ErrInvalidRules = errors.New("fees: invalid rules")

// Rules configures how a resale is priced and how its markup is shared. All
// values are expressed in parts-per-million.
type Rules struct {
	// TotalFeePPM is charged on top of the ticket price for the platform.
	TotalFeePPM uint64 `json:"totalFeePpm" toml:"TotalFeePPM" yaml:"totalFeePpm"`
	// OrgGetsPPM is the organizer channel's slice of the markup.
	OrgGetsPPM uint64 `json:"orgGetsPpm" toml:"OrgGetsPPM" yaml:"orgGetsPpm"`
	// RefGetsPPM is carved out of the organizer channel for a referrer.
	RefGetsPPM uint64 `json:"refGetsPpm" toml:"RefGetsPPM" yaml:"refGetsPpm"`
}

// DefaultRules returns the rules applied to events registered without an
// explicit rule set: a 23% fee, half of the markup to the organizer channel and
// a tenth of the markup to referrers.
func DefaultRules() Rules {
	return Rules{
		TotalFeePPM: 230_000,
		OrgGetsPPM:  500_000,
		RefGetsPPM:  100_000,
	}
}

// Validate enforces OrgGetsPPM <= 100% and RefGetsPPM <= OrgGetsPPM. The fee
// has no upper bound.
func (r Rules) Validate() error {
	if r.OrgGetsPPM > PPMScale {
		return fmt.Errorf("%w: orgGets %d exceeds %d", ErrInvalidRules, r.OrgGetsPPM, PPMScale)
	}
	if r.RefGetsPPM > r.OrgGetsPPM {
		return fmt.Errorf("%w: refGets %d exceeds orgGets %d", ErrInvalidRules, r.RefGetsPPM, r.OrgGetsPPM)
	}
	return nil
}
