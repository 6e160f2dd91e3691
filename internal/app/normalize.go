package app

import (
	"encoding/json"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"estate_reviews/internal/adapters/observability"
	"estate_reviews/internal/domain"
)

/********** alias registries (single source of truth) **********/

// ratingAliases is checked in order; the first present, non-null value wins.
var ratingAliases = []string{"rating", "star_rating", "stars", "rate", "review_rating"}

var reviewAliases = map[string][]string{
	"id":             {"id", "review_id", "reviewId"},
	"user_id":        {"user_id", "userId", "user.id"},
	"user_name":      {"user_name", "userName", "name", "user.name", "reviewer"},
	"comment":        {"comment", "review", "text", "content", "body", "message"},
	"created_at":     {"created_at", "createdAt", "date", "timestamp"},
	"total_comments": {"total_comments", "totalComments", "comments_count"},
}

const (
	defaultUserName = "Anonymous User"
	defaultComment  = "No comment provided"
)

// createdAtLayouts: RFC3339 first, then the sloppy shapes the backend emits.
var createdAtLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02 15:04:05",
	"2006-01-02",
}

/********** tiny helpers **********/

// lookupAny: safe nested lookup with dot paths on maps.
func lookupAny(m map[string]any, path string) any {
	cur := any(m)
	for _, part := range strings.Split(path, ".") {
		obj, ok := cur.(map[string]any)
		if !ok {
			return nil
		}
		v, ok := obj[part]
		if !ok {
			return nil
		}
		cur = v
	}
	return cur
}

func lookupStr(m map[string]any, path string) string {
	if v := lookupAny(m, path); v != nil {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return ""
}

// firstNonEmptyStr: first non-empty string for a named alias set.
func firstNonEmptyStr(m map[string]any, key string) string {
	for _, p := range reviewAliases[key] {
		if s := strings.TrimSpace(lookupStr(m, p)); s != "" {
			return s
		}
	}
	return ""
}

// firstFloat takes the first present, non-null candidate path and coerces it
// (float64/int/numeric string). An unparseable value does not fall through to
// lower-priority aliases: the field was there, it is just bad data. Returns
// (value, parsed, present).
func firstFloat(m map[string]any, paths ...string) (float64, bool, bool) {
	for _, k := range paths {
		v := lookupAny(m, k)
		if v == nil {
			continue
		}
		switch t := v.(type) {
		case float64:
			return t, true, true
		case int:
			return float64(t), true, true
		case int64:
			return float64(t), true, true
		case json.Number:
			if f, err := t.Float64(); err == nil {
				return f, true, true
			}
		case string:
			s := strings.TrimSpace(strings.ReplaceAll(t, ",", "."))
			if f, err := strconv.ParseFloat(s, 64); err == nil && !math.IsNaN(f) {
				return f, true, true
			}
		}
		return 0, false, true
	}
	return 0, false, false
}

// firstInt64: int64 from several paths (float64/int/string).
func firstInt64(m map[string]any, paths ...string) (int64, bool) {
	for _, k := range paths {
		switch v := lookupAny(m, k).(type) {
		case float64:
			return int64(v), true
		case int:
			return int64(v), true
		case int64:
			return v, true
		case json.Number:
			if n, err := v.Int64(); err == nil {
				return n, true
			}
		case string:
			s := strings.TrimSpace(v)
			if s == "" {
				continue
			}
			if n, err := strconv.ParseInt(s, 10, 64); err == nil {
				return n, true
			}
		}
	}
	return 0, false
}

/********** normalizer **********/

// Normalize maps raw backend records into canonical Reviews. It is total:
// every input record yields exactly one Review, malformed fields fall back to
// defaults, and nothing here returns an error. Malformed ratings surface as
// Rating==0 plus a data-quality log/metric.
func Normalize(agentID int64, in []map[string]any) []domain.Review {
	out := make([]domain.Review, 0, len(in))
	for _, r := range in {
		out = append(out, NormalizeOne(agentID, r))
	}
	return out
}

// NormalizeOne normalizes a single raw record.
func NormalizeOne(agentID int64, r map[string]any) domain.Review {
	rv := domain.Review{AgentID: agentID}

	// Rating: alias-ordered probe, then validate (0,5].
	f, ok, present := firstFloat(r, ratingAliases...)
	switch {
	case ok && f > 0 && f <= 5:
		rv.Rating = f
	case ok:
		observability.ObserveDataQuality("rating", "out_of_range")
		log.Warn().Int64("agent_id", agentID).Float64("rating", f).
			Msg("review rating out of range, normalized to 0")
	case present:
		observability.ObserveDataQuality("rating", "unparseable")
		log.Warn().Int64("agent_id", agentID).
			Msg("review rating unparseable, normalized to 0")
	default:
		observability.ObserveDataQuality("rating", "missing")
	}

	if id, ok := firstInt64(r, reviewAliases["id"]...); ok {
		rv.ID = id
	}
	if uid, ok := firstInt64(r, reviewAliases["user_id"]...); ok {
		rv.UserID = uid
	}

	rv.UserName = firstNonEmptyStr(r, "user_name")
	if rv.UserName == "" {
		rv.UserName = defaultUserName
	}
	rv.Comment = firstNonEmptyStr(r, "comment")
	if rv.Comment == "" {
		rv.Comment = defaultComment
	}

	rv.CreatedAt = parseCreatedAt(r)

	if tc, ok := firstInt64(r, reviewAliases["total_comments"]...); ok && tc > 0 {
		rv.TotalComments = int(tc)
	}

	// Keep the full raw payload for forward compatibility.
	if raw, err := json.Marshal(r); err == nil {
		rv.Raw = raw
	} else {
		log.Error().Err(err).Str("context", "NormalizeOne").Msg("marshal raw review failed")
	}

	return rv
}

func parseCreatedAt(r map[string]any) time.Time {
	s := firstNonEmptyStr(r, "created_at")
	if s == "" {
		return time.Now().UTC()
	}
	for _, layout := range createdAtLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t
		}
	}
	observability.ObserveDataQuality("created_at", "unparseable")
	return time.Now().UTC()
}
