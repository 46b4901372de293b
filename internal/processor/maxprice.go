package processor

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"jobmate/listing-service/internal/model"
)

// MaxPriceID is the registry id of MaxPrice.
const MaxPriceID = "max-price"

// MaxPrice drops listings whose price exceeds the job's MaxPrice.
// Listings with an unparseable price are kept.
type MaxPrice struct{}

func (MaxPrice) ID() string { return MaxPriceID }

func (MaxPrice) ShouldFilter(_ context.Context, l model.Listing, pctx Context) (bool, error) {
	if pctx.Job.MaxPrice <= 0 {
		return false, nil
	}
	price, ok := ParsePrice(l.Price)
	if !ok {
		return false, nil
	}
	return price > pctx.Job.MaxPrice, nil
}

func (MaxPrice) Process(_ context.Context, l model.Listing, _ Context) (model.Listing, error) {
	return l, nil
}

func (MaxPrice) NotificationText(l model.Listing, pctx Context) string {
	if pctx.Job.MaxPrice <= 0 {
		return ""
	}
	price, ok := ParsePrice(l.Price)
	if !ok {
		return ""
	}
	return fmt.Sprintf("%s: %.0f of %.0f budget", l.Title, price, pctx.Job.MaxPrice)
}

// ParsePrice reads the first number of a scraped price such as
// "1.200 €", "1,200.50 $" or "50000-60000". A single separator followed
// by exactly three digits is read as a thousands separator.
func ParsePrice(s string) (float64, bool) {
	if i := strings.IndexAny(s, "0123456789"); i >= 0 {
		s = s[i:]
	}
	end := 0
	for end < len(s) && (s[end] >= '0' && s[end] <= '9' || s[end] == '.' || s[end] == ',') {
		end++
	}
	num := s[:end]
	if num == "" {
		return 0, false
	}

	lastDot, lastComma := strings.LastIndex(num, "."), strings.LastIndex(num, ",")
	decimal := max(lastDot, lastComma)
	if decimal >= 0 && len(num)-decimal-1 == 3 {
		decimal = -1
	}

	var b strings.Builder
	for i, r := range num {
		switch {
		case r >= '0' && r <= '9':
			b.WriteRune(r)
		case i == decimal:
			b.WriteRune('.')
		}
	}
	v, err := strconv.ParseFloat(b.String(), 64)
	if err != nil {
		return 0, false
	}
	return v, true
}
