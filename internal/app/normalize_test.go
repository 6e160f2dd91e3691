package app_test

import (
	"strings"
	"testing"
	"time"

	"estate_reviews/internal/app"
)

func TestNormalize_TotalOverInput(t *testing.T) {
	in := []map[string]any{
		{}, // nothing usable at all
		{"rating": nil, "user_name": nil},
		{"rate": "abc"},
	}
	out := app.Normalize(1, in)
	if len(out) != len(in) {
		t.Fatalf("expected %d reviews, got %d", len(in), len(out))
	}
	for i, rv := range out {
		if rv.Rating < 0 || rv.Rating > 5 {
			t.Fatalf("review %d rating out of range: %v", i, rv.Rating)
		}
		if rv.UserName != "Anonymous User" {
			t.Fatalf("review %d user name: %q", i, rv.UserName)
		}
		if rv.Comment != "No comment provided" {
			t.Fatalf("review %d comment: %q", i, rv.Comment)
		}
		if rv.CreatedAt.IsZero() {
			t.Fatalf("review %d createdAt not defaulted", i)
		}
	}
}

func TestNormalize_RatingCoercion(t *testing.T) {
	cases := []struct {
		name string
		raw  map[string]any
		want float64
	}{
		{"numeric_string", map[string]any{"rating": "4.5"}, 4.5},
		{"comma_decimal", map[string]any{"rating": "3,5"}, 3.5},
		{"float", map[string]any{"rating": 4.0}, 4.0},
		{"int_alias", map[string]any{"star_rating": 3}, 3.0},
		{"out_of_range", map[string]any{"stars": 7}, 0},
		{"negative", map[string]any{"rating": -2.0}, 0},
		{"unparseable", map[string]any{"rate": "abc"}, 0},
		{"zero_is_invalid", map[string]any{"review_rating": 0.0}, 0},
		{"missing", map[string]any{"comment": "hi"}, 0},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := app.NormalizeOne(1, tc.raw)
			if got.Rating != tc.want {
				t.Fatalf("rating = %v, want %v", got.Rating, tc.want)
			}
		})
	}
}

func TestNormalize_AliasPriorityOrder(t *testing.T) {
	// "rating" outranks "stars" even when both are present
	rv := app.NormalizeOne(1, map[string]any{"stars": 5.0, "rating": 2.0})
	if rv.Rating != 2.0 {
		t.Fatalf("rating = %v, want 2.0 from the higher-priority alias", rv.Rating)
	}

	// an unparseable high-priority alias does not fall through to a lower one
	rv = app.NormalizeOne(1, map[string]any{"rating": "n/a", "stars": 5.0})
	if rv.Rating != 0 {
		t.Fatalf("rating = %v, want 0 for unparseable first-present value", rv.Rating)
	}
}

func TestNormalize_Fields(t *testing.T) {
	raw := map[string]any{
		"review_id":      42.0,
		"user_id":        "7",
		"userName":       "Asha",
		"review":         "Great agent",
		"created_at":     "2024-05-06T10:30:00Z",
		"total_comments": 3.0,
		"office_branch":  "Kochi", // unrecognized, must survive in Raw
	}
	rv := app.NormalizeOne(9, raw)
	if rv.ID != 42 || rv.UserID != 7 || rv.AgentID != 9 {
		t.Fatalf("ids: %+v", rv)
	}
	if rv.UserName != "Asha" || rv.Comment != "Great agent" {
		t.Fatalf("strings: %+v", rv)
	}
	want := time.Date(2024, 5, 6, 10, 30, 0, 0, time.UTC)
	if !rv.CreatedAt.Equal(want) {
		t.Fatalf("createdAt = %v", rv.CreatedAt)
	}
	if rv.TotalComments != 3 {
		t.Fatalf("totalComments = %d", rv.TotalComments)
	}
	if !strings.Contains(string(rv.Raw), "office_branch") {
		t.Fatalf("raw passthrough lost: %s", rv.Raw)
	}
}

func TestNormalize_BadCreatedAtDefaultsToNow(t *testing.T) {
	before := time.Now().UTC().Add(-time.Second)
	rv := app.NormalizeOne(1, map[string]any{"created_at": "soonish"})
	after := time.Now().UTC().Add(time.Second)
	if rv.CreatedAt.Before(before) || rv.CreatedAt.After(after) {
		t.Fatalf("createdAt not defaulted to now: %v", rv.CreatedAt)
	}
}

func TestNormalize_NegativeTotalComments(t *testing.T) {
	rv := app.NormalizeOne(1, map[string]any{"total_comments": -4.0})
	if rv.TotalComments != 0 {
		t.Fatalf("totalComments = %d, want 0", rv.TotalComments)
	}
}
