package app

import (
	"math"
	"sort"

	"github.com/rs/zerolog/log"

	"estate_reviews/internal/domain"
)

// ComputeAggregate derives stats from a review set. Pure and deterministic:
// same input, same output. Zero-rated reviews (invalid/missing ratings)
// count toward TotalReviews but are excluded from the average and histogram.
func ComputeAggregate(reviews []domain.Review) domain.AggregateStats {
	stats := domain.AggregateStats{
		TotalReviews: len(reviews),
		Histogram:    map[int]int{1: 0, 2: 0, 3: 0, 4: 0, 5: 0},
	}

	var sum float64
	var valid int
	for _, r := range reviews {
		if r.Rating < 0 || r.Rating > 5 {
			// Normalization clamps earlier; reaching here is a programmer error.
			log.Error().Int64("review_id", r.ID).Float64("rating", r.Rating).
				Msg("aggregate input rating outside [0,5]")
		}
		if r.Rating <= 0 || r.Rating > 5 {
			continue
		}
		sum += r.Rating // unrounded, keeps half-star precision in the mean
		valid++

		bucket := int(math.Round(r.Rating))
		if bucket < 1 {
			bucket = 1
		} else if bucket > 5 {
			bucket = 5
		}
		stats.Histogram[bucket]++
	}

	if valid > 0 {
		avg := sum / float64(valid)
		if avg < 0 {
			avg = 0
		} else if avg > 5 {
			avg = 5
		}
		// quarter-star quantization for star rendering
		stats.AverageRating = math.Round(avg*4) / 4
	}
	return stats
}

// SortReviews orders a review set in place. Supported keys mirror the read
// API: -created_at (default, newest first), created_at, -rating, rating.
// Ties break on id so the order is stable across refetches.
func SortReviews(reviews []domain.Review, key string) {
	var less func(a, b domain.Review) bool
	switch key {
	case "created_at":
		less = func(a, b domain.Review) bool { return a.CreatedAt.Before(b.CreatedAt) }
	case "-rating":
		less = func(a, b domain.Review) bool { return a.Rating > b.Rating }
	case "rating":
		less = func(a, b domain.Review) bool { return a.Rating < b.Rating }
	default: // "-created_at"
		less = func(a, b domain.Review) bool { return a.CreatedAt.After(b.CreatedAt) }
	}
	sort.SliceStable(reviews, func(i, j int) bool {
		a, b := reviews[i], reviews[j]
		if less(a, b) {
			return true
		}
		if less(b, a) {
			return false
		}
		return a.ID < b.ID
	})
}
