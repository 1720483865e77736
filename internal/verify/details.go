package verify

import (
	"fmt"
	"sort"
	"strings"
	"unicode"
)

// Detail is one human-facing field of a flattened verification result.
type Detail struct {
	Key   string `json:"key"`
	Label string `json:"label"`
	Value string `json:"value"`
}

const (
	// flattenMaxDepth bounds recursion; deeper substructure is rendered as its
	// string form instead of being descended into.
	flattenMaxDepth = 3
	// detailOverflowCap limits how many non-priority fields follow the
	// priority ones.
	detailOverflowCap = 24
	// detailValueMaxLen suppresses values too long to be receipt fields.
	detailValueMaxLen = 220
)

// diagnosticKeyWords mark keys whose values are internal diagnostics, not
// receipt data. Suppression only affects the display list; Raw keeps
// everything.
var diagnosticKeyWords = []string{"error", "stack", "trace", "message", "detail", "success"}

// FlattenDetails walks the display view of a verification result and returns
// an ordered list of presentable fields: the provider's priority keys first,
// in declared order, then remaining non-empty leaves up to a cap.
func FlattenDetails(v *NormalizedVerification, p Provider) []Detail {
	if v == nil || len(v.Raw) == 0 {
		return nil
	}

	flat := map[string]string{}
	flattenInto(flat, "", payloadView(v.Raw), 0)

	used := map[string]bool{}
	details := make([]Detail, 0, len(flat))

	for _, key := range p.PriorityKeys() {
		val, ok := flat[key]
		if !ok || suppressDetail(key, val) {
			continue
		}
		details = append(details, Detail{Key: key, Label: humanLabel(key), Value: val})
		used[key] = true
	}

	rest := make([]string, 0, len(flat))
	for key := range flat {
		if !used[key] {
			rest = append(rest, key)
		}
	}
	sort.Strings(rest)

	extra := 0
	for _, key := range rest {
		if extra >= detailOverflowCap {
			break
		}
		val := flat[key]
		if suppressDetail(key, val) {
			continue
		}
		details = append(details, Detail{Key: key, Label: humanLabel(key), Value: val})
		extra++
	}

	return details
}

// flattenInto records every leaf of value under dotted path keys.
func flattenInto(out map[string]string, prefix string, value any, depth int) {
	switch v := value.(type) {
	case map[string]any:
		if depth >= flattenMaxDepth {
			out[prefix] = fmt.Sprint(v)
			return
		}
		for key, child := range v {
			path := key
			if prefix != "" {
				path = prefix + "." + key
			}
			flattenInto(out, path, child, depth+1)
		}
	case []any:
		parts := make([]string, 0, len(v))
		for _, item := range v {
			if s := renderLeaf(item); s != "" {
				parts = append(parts, s)
			}
		}
		if len(parts) > 0 {
			out[prefix] = strings.Join(parts, ", ")
		}
	default:
		if s := renderLeaf(v); s != "" && prefix != "" {
			out[prefix] = s
		}
	}
}

func renderLeaf(v any) string {
	switch leaf := v.(type) {
	case nil:
		return ""
	case string:
		return strings.TrimSpace(leaf)
	case float64:
		// Render integral amounts without a trailing ".0".
		if leaf == float64(int64(leaf)) {
			return fmt.Sprintf("%d", int64(leaf))
		}
		return fmt.Sprintf("%.2f", leaf)
	case bool:
		if leaf {
			return "Yes"
		}
		return "No"
	case map[string]any, []any:
		return fmt.Sprint(leaf)
	default:
		return fmt.Sprint(leaf)
	}
}

func suppressDetail(key, value string) bool {
	if value == "" || len(value) > detailValueMaxLen {
		return true
	}
	k := strings.ToLower(key)
	for _, word := range diagnosticKeyWords {
		if strings.Contains(k, word) {
			return true
		}
	}
	return looksLikeInfraLeak(value)
}

// humanLabel turns a dotted camelCase path into a display label:
// "payer.telebirrNo" becomes "Payer Telebirr No".
func humanLabel(key string) string {
	var b strings.Builder
	prevLower := false
	capitalizeNext := true
	for _, r := range key {
		switch {
		case r == '.' || r == '_' || r == '-':
			b.WriteRune(' ')
			capitalizeNext = true
			prevLower = false
			continue
		case unicode.IsUpper(r) && prevLower:
			b.WriteRune(' ')
		}
		if capitalizeNext {
			b.WriteRune(unicode.ToUpper(r))
			capitalizeNext = false
		} else {
			b.WriteRune(r)
		}
		prevLower = unicode.IsLower(r) || unicode.IsDigit(r)
	}
	return strings.TrimSpace(b.String())
}
