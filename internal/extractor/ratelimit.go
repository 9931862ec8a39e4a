package extractor

import (
	"os"
	"strconv"

	"golang.org/x/time/rate"
)

// newDefaultLimiter creates a rate limiter using env overrides if present.
// Pagination is sequential, so the defaults mostly matter for bulk mode.
func newDefaultLimiter() *rate.Limiter {
	rps := 1.0
	burst := 2
	if v := os.Getenv("MAGPIE_EXTRACT_RPS"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil && f > 0 {
			rps = f
		}
	}
	if v := os.Getenv("MAGPIE_EXTRACT_BURST"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			burst = n
		}
	}
	return rate.NewLimiter(rate.Limit(rps), burst)
}
