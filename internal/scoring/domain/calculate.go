package domain

import "strings"

// AutoQualifyThreshold is the total at which a PENDING referral qualifies
// without human review.
const AutoQualifyThreshold = 60

var tier1Cities = map[string]struct{}{
	"cdmx":             {},
	"monterrey":        {},
	"guadalajara":      {},
	"ciudad de mexico": {},
	"ciudad de méxico": {},
}

var knownPOSSystems = map[string]struct{}{
	"poster":         {},
	"softrestaurant": {},
	"square":         {},
	"toast":          {},
	"aloha":          {},
	"revel":          {},
	"lightspeed":     {},
	"clover":         {},
	"micros":         {},
}

// Input holds every signal the score reads. Nil pointers are unknown values
// and earn nothing.
type Input struct {
	City          *string
	NumLocations  *int
	CurrentPOS    *string
	DeliveryPct   *int
	OwnerWhatsapp *string
	OwnerEmail    *string

	UsedCalculator bool
	UsedDiagnostic bool
	RequestedDemo  bool
	FromMetaAd     bool

	RespondedWa     bool
	OpenedMessages  int
	ResponseTimeMin *int
}

type Score struct {
	Fit    int `json:"fit"`
	Intent int `json:"intent"`
	Engage int `json:"engage"`
	Total  int `json:"total"`
}

// Calculate is deterministic and has no side effects. Within a signal only the
// highest matching band counts.
func Calculate(in Input) Score {
	var s Score

	if in.City != nil && member(tier1Cities, *in.City) {
		s.Fit += 10
	}
	if in.NumLocations != nil {
		switch n := *in.NumLocations; {
		case n >= 6:
			s.Fit += 10
		case n >= 2:
			s.Fit += 7
		case n >= 1:
			s.Fit += 3
		}
	}
	if in.CurrentPOS != nil && member(knownPOSSystems, *in.CurrentPOS) {
		s.Fit += 5
	}
	if in.DeliveryPct != nil {
		switch pct := *in.DeliveryPct; {
		case pct > 50:
			s.Fit += 5
		case pct > 20:
			s.Fit += 3
		}
	}
	if present(in.OwnerWhatsapp) {
		s.Fit += 3
	}
	if present(in.OwnerEmail) {
		s.Fit += 2
	}

	if in.UsedCalculator {
		s.Intent += 10
	}
	if in.UsedDiagnostic {
		s.Intent += 10
	}
	if in.RequestedDemo {
		s.Intent += 10
	}
	if in.FromMetaAd {
		s.Intent += 5
	}

	if in.RespondedWa {
		s.Engage += 10
	}
	switch n := in.OpenedMessages; {
	case n >= 6:
		s.Engage += 10
	case n >= 3:
		s.Engage += 7
	case n >= 1:
		s.Engage += 3
	}
	if in.ResponseTimeMin != nil {
		switch latency := *in.ResponseTimeMin; {
		case latency < 30:
			s.Engage += 10
		case latency < 120:
			s.Engage += 5
		case latency < 480:
			s.Engage += 2
		}
	}

	s.Total = s.Fit + s.Intent + s.Engage
	return s
}

func member(set map[string]struct{}, value string) bool {
	_, ok := set[strings.ToLower(strings.TrimSpace(value))]
	return ok
}

func present(value *string) bool {
	return value != nil && *value != ""
}
