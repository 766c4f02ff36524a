package telemetry

import (
	"regexp"
	"sort"
	"strings"

	"go.opentelemetry.io/otel/attribute"

	"github.com/straja-ai/piiscope/internal/redact"
)

// Namespace prefixes every metric and span label piiscope emits.
const Namespace = "piiscope."

const (
	maxLabelLen   = 128
	maxSliceItems = 32
)

// Label keys naming an entity-bearing or secret field are never emitted,
// whatever their value.
var forbiddenLabelParts = []string{
	"entity", "value", "text", "record_data",
	"password", "authorization", "api_key", "token", "secret",
}

// contactLike catches values that slipped through as labels but carry
// contact data: e-mail addresses and long digit runs.
var contactLike = regexp.MustCompile(`@[^\s]+\.|\d[\d\s\-]{6,}\d`)

// SafeAttributes turns run labels into OTEL attributes. Keys outside the
// piiscope namespace are dropped, as are forbidden keys and string values that
// contain secrets or contact data. String slices (type lists) are sorted,
// deduplicated and capped. Output is ordered by key.
func SafeAttributes(values map[string]any) []attribute.KeyValue {
	if len(values) == 0 {
		return nil
	}
	keys := make([]string, 0, len(values))
	for k := range values {
		if allowedLabel(k) {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)

	attrs := make([]attribute.KeyValue, 0, len(keys))
	for _, k := range keys {
		switch v := values[k].(type) {
		case string:
			if safeLabelValue(v) {
				attrs = append(attrs, attribute.String(k, v))
			}
		case bool:
			attrs = append(attrs, attribute.Bool(k, v))
		case int:
			attrs = append(attrs, attribute.Int(k, v))
		case int64:
			attrs = append(attrs, attribute.Int64(k, v))
		case float64:
			attrs = append(attrs, attribute.Float64(k, v))
		case []string:
			attrs = append(attrs, attribute.StringSlice(k, typeList(v)))
		}
	}
	return attrs
}

func allowedLabel(key string) bool {
	if !strings.HasPrefix(key, Namespace) {
		return false
	}
	lk := strings.ToLower(strings.TrimPrefix(key, Namespace))
	for _, part := range forbiddenLabelParts {
		if strings.Contains(lk, part) {
			return false
		}
	}
	return true
}

func safeLabelValue(v string) bool {
	if len(v) > maxLabelLen {
		return false
	}
	return redact.String(v) == v && !contactLike.MatchString(v)
}

func typeList(in []string) []string {
	seen := make(map[string]struct{}, len(in))
	out := make([]string, 0, len(in))
	for _, s := range in {
		if _, dup := seen[s]; dup || !safeLabelValue(s) {
			continue
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}
	sort.Strings(out)
	if len(out) > maxSliceItems {
		out = out[:maxSliceItems]
	}
	return out
}
