// Package policy computes refunds for cancelled bookings. Everything here
// is pure: no I/O, no clock, no shared state.
package policy

import (
	"errors"
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"
	"time"
)

const (
	LabelWeatherEmergency = "weather_emergency"
	LabelOutsideWindow    = "outside_window"

	// DefaultBands is the stock schedule: 48h or more refunds everything
	// above the deposit, 24 to 47h refunds half, under 24h nothing.
	DefaultBands = "48-:100,24-47:50,0-23:0"
)

var ErrInvalidBands = errors.New("refund bands must partition [0, inf) without gaps or overlaps")

// Band covers whole hours in [MinHours, MaxHours]. A nil MaxHours is open ended.
type Band struct {
	MinHours int
	MaxHours *int
	Percent  int
	Label    string
}

func (b Band) Contains(hours int) bool {
	if hours < b.MinHours {
		return false
	}
	return b.MaxHours == nil || hours <= *b.MaxHours
}

type Policy struct {
	DepositCents int64
	Bands        []Band
}

type Result struct {
	RefundPercent      int    `json:"refund_percent"`
	RefundCents        int64  `json:"refund_cents"`
	RuleLabel          string `json:"rule_label"`
	HoursUntilDelivery int    `json:"hours_until_delivery"`
}

// New parses bands and validates the resulting policy.
func New(depositCents int64, bands string) (*Policy, error) {
	if depositCents < 0 {
		return nil, fmt.Errorf("deposit must not be negative, got %d", depositCents)
	}
	parsed, err := ParseBands(bands)
	if err != nil {
		return nil, err
	}
	p := &Policy{DepositCents: depositCents, Bands: parsed}
	if err := p.Validate(); err != nil {
		return nil, err
	}
	return p, nil
}

// ParseBands reads "min-max:percent" entries separated by commas. An
// empty max ("48-:100") leaves the band open ended. Bands are returned
// ordered by MinHours, highest first.
func ParseBands(list string) ([]Band, error) {
	list = strings.TrimSpace(list)
	if list == "" {
		return nil, fmt.Errorf("%w: no bands configured", ErrInvalidBands)
	}

	var bands []Band
	for _, raw := range strings.Split(list, ",") {
		raw = strings.TrimSpace(raw)
		rangePart, percentPart, ok := strings.Cut(raw, ":")
		if !ok {
			return nil, fmt.Errorf("band %q: missing ':percent'", raw)
		}
		minPart, maxPart, ok := strings.Cut(rangePart, "-")
		if !ok {
			return nil, fmt.Errorf("band %q: missing '-' between hours", raw)
		}

		minHours, err := strconv.Atoi(strings.TrimSpace(minPart))
		if err != nil {
			return nil, fmt.Errorf("band %q: min hours: %w", raw, err)
		}
		percent, err := strconv.Atoi(strings.TrimSpace(percentPart))
		if err != nil {
			return nil, fmt.Errorf("band %q: percent: %w", raw, err)
		}
		if percent < 0 || percent > 100 {
			return nil, fmt.Errorf("band %q: percent must be within 0-100", raw)
		}

		band := Band{MinHours: minHours, Percent: percent}
		if maxPart = strings.TrimSpace(maxPart); maxPart != "" {
			maxHours, err := strconv.Atoi(maxPart)
			if err != nil {
				return nil, fmt.Errorf("band %q: max hours: %w", raw, err)
			}
			if maxHours < minHours {
				return nil, fmt.Errorf("band %q: max below min", raw)
			}
			band.MaxHours = &maxHours
			band.Label = fmt.Sprintf("%d-%dh", minHours, maxHours)
		} else {
			band.Label = fmt.Sprintf("%dh+", minHours)
		}
		bands = append(bands, band)
	}

	sort.Slice(bands, func(i, j int) bool { return bands[i].MinHours > bands[j].MinHours })
	return bands, nil
}

// Validate checks that the bands cover every non-negative hour exactly once.
func (p *Policy) Validate() error {
	if len(p.Bands) == 0 {
		return fmt.Errorf("%w: no bands configured", ErrInvalidBands)
	}

	ordered := make([]Band, len(p.Bands))
	copy(ordered, p.Bands)
	sort.Slice(ordered, func(i, j int) bool { return ordered[i].MinHours < ordered[j].MinHours })

	if ordered[0].MinHours != 0 {
		return fmt.Errorf("%w: first band starts at %dh", ErrInvalidBands, ordered[0].MinHours)
	}
	for i, band := range ordered {
		last := i == len(ordered)-1
		if band.MaxHours == nil {
			if !last {
				return fmt.Errorf("%w: open band %s is not the last one", ErrInvalidBands, band.Label)
			}
			continue
		}
		if last {
			return fmt.Errorf("%w: last band %s must be open ended", ErrInvalidBands, band.Label)
		}
		if next := ordered[i+1].MinHours; next != *band.MaxHours+1 {
			return fmt.Errorf("%w: band %s is followed by a band starting at %dh", ErrInvalidBands, band.Label, next)
		}
	}
	return nil
}

// Calculate returns the refund for a cancellation at cancelAt of a
// booking delivered at deliveryAt. Weather or emergency cancellations
// return everything, deposit included. Otherwise the deposit is kept and
// the matching band's percentage applies to the remainder.
func (p *Policy) Calculate(amountPaid int64, deliveryAt, cancelAt time.Time, weatherOrEmergency bool) Result {
	hours := HoursUntil(deliveryAt, cancelAt)
	if amountPaid < 0 {
		amountPaid = 0
	}

	if weatherOrEmergency {
		return Result{
			RefundPercent:      100,
			RefundCents:        amountPaid,
			RuleLabel:          LabelWeatherEmergency,
			HoursUntilDelivery: hours,
		}
	}

	base := amountPaid - p.DepositCents
	if base < 0 {
		base = 0
	}

	for _, band := range p.Bands {
		if !band.Contains(hours) {
			continue
		}
		return Result{
			RefundPercent:      band.Percent,
			RefundCents:        percentOf(base, band.Percent),
			RuleLabel:          band.Label,
			HoursUntilDelivery: hours,
		}
	}

	return Result{RuleLabel: LabelOutsideWindow, HoursUntilDelivery: hours}
}

// ForDeposit returns the policy with the deposit a booking was quoted.
// A non-positive deposit keeps the configured one.
func (p *Policy) ForDeposit(depositCents int64) *Policy {
	if depositCents <= 0 || depositCents == p.DepositCents {
		return p
	}
	cp := *p
	cp.DepositCents = depositCents
	return &cp
}

// HoursUntil floors the time between cancelAt and deliveryAt to whole hours.
func HoursUntil(deliveryAt, cancelAt time.Time) int {
	return int(math.Floor(deliveryAt.Sub(cancelAt).Hours()))
}

func percentOf(amount int64, percent int) int64 {
	v := int64(math.Round(float64(amount) * float64(percent) / 100))
	if v < 0 {
		return 0
	}
	return v
}
