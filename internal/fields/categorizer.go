// Package fields classifies the open-ended key/value pairs the extractor
// reports alongside the fixed invoice fields. It is pure computation: the
// same inputs always produce the same grouped, sorted output, so the display
// layer can re-derive it every time the structured data changes.
package fields

import (
	"sort"
	"strings"
)

// Taxonomy is the fixed, ordered set of semantic buckets used to group
// extracted fields. Every bucket is always present in a categorization
// result, empty or not, so callers never special-case missing categories.
var Taxonomy = []string{
	"vendor_info",
	"client_info",
	"product_details",
	"totals",
	"tax_details",
	"payment_details",
	"dates",
	"other",
}

// reservedMainFields are labels already surfaced through the primary
// structured-data fields. Any detected field whose key contains one of these
// (case-insensitively) is excluded from the secondary list to avoid showing
// the same value twice.
var reservedMainFields = []string{
	"numéro de facture",
	"date",
	"montant total",
	"total",
}

// DetectedField is one extracted key/value pair, optionally tagged with the
// taxonomy bucket it was grouped under.
type DetectedField struct {
	Key      string `json:"key"`
	Value    string `json:"value"`
	Category string `json:"category,omitempty"`
}

// CategoryGroup is one taxonomy bucket and its fields, in taxonomy order.
type CategoryGroup struct {
	Name   string          `json:"name"`
	Fields []DetectedField `json:"fields"`
}

// IsReserved reports whether a field key collides with one of the primary
// invoice fields.
func IsReserved(key string) bool {
	lower := strings.ToLower(key)
	for _, reserved := range reservedMainFields {
		if strings.Contains(lower, reserved) {
			return true
		}
	}
	return false
}

// OtherDetected filters the raw detected-field map down to the entries that
// are not already covered by the primary structured-data fields, sorted by
// key in case-sensitive lexicographic order.
func OtherDetected(detected map[string]string) []DetectedField {
	out := make([]DetectedField, 0, len(detected))
	for key, value := range detected {
		if IsReserved(key) {
			continue
		}
		out = append(out, DetectedField{Key: key, Value: value})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out
}

// Categorize maps the server's category -> fields structure onto the fixed
// taxonomy. Categories the server invented that are not in the taxonomy are
// dropped; taxonomy categories the server omitted come back empty. Entries
// within a category are sorted by key.
func Categorize(categorized map[string]map[string]string) []CategoryGroup {
	groups := make([]CategoryGroup, 0, len(Taxonomy))
	for _, name := range Taxonomy {
		group := CategoryGroup{Name: name, Fields: []DetectedField{}}
		for key, value := range categorized[name] {
			group.Fields = append(group.Fields, DetectedField{
				Key:      key,
				Value:    value,
				Category: name,
			})
		}
		sort.Slice(group.Fields, func(i, j int) bool {
			return group.Fields[i].Key < group.Fields[j].Key
		})
		groups = append(groups, group)
	}
	return groups
}
