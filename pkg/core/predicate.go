package core

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/liliang-cn/vecmem/internal/encoding"
	"github.com/liliang-cn/vecmem/internal/vecext"
)

// keywordFields are the metadata fields searched by keyword filters
var keywordFields = []string{"content", "title", "text"}

// Predicate is a SQL boolean expression over the vectors table plus its
// positional arguments. It is shared by every read path.
type Predicate struct {
	Where string
	Args  []any
}

// BuildPredicate combines the dimension guard, metadata equality filters and
// keyword filters into one predicate. dim <= 0 degrades the guard to
// "embedding IS NOT NULL".
func BuildPredicate(dim int, keywords []string, filters map[string]any) Predicate {
	var (
		conditions []string
		args       []any
	)

	if dim > 0 {
		conditions = append(conditions, "embedding IS NOT NULL AND length(embedding) = ?")
		args = append(args, encoding.EncodedSize(dim))
	} else {
		conditions = append(conditions, "embedding IS NOT NULL")
	}

	keys := make([]string, 0, len(filters))
	for key := range filters {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	for _, rawKey := range keys {
		key := sanitizeKey(rawKey)
		if key == "" {
			continue
		}
		path := fmt.Sprintf("json_extract(metadata, '$.%s')", key)
		cond, arg, ok := equality(path, filters[rawKey])
		conditions = append(conditions, cond)
		if ok {
			args = append(args, arg)
		}
	}

	for _, kw := range normalizeKeywords(keywords) {
		// both sides fold with the same Unicode rules
		pattern := "%" + escapeLike(vecext.FoldString(kw)) + "%"
		alts := make([]string, 0, len(keywordFields))
		for _, field := range keywordFields {
			alts = append(alts, fmt.Sprintf(`%s(coalesce(json_extract(metadata, '$.%s'), '')) LIKE ? ESCAPE '\'`, vecext.Fold, field))
			args = append(args, pattern)
		}
		conditions = append(conditions, "("+strings.Join(alts, " OR ")+")")
	}

	return Predicate{
		Where: strings.Join(conditions, " AND "),
		Args:  args,
	}
}

// equality returns the condition comparing path with value. hasArg is false
// when the condition takes no argument.
func equality(path string, value any) (cond string, arg any, hasArg bool) {
	switch v := value.(type) {
	case nil:
		return path + " IS NULL", nil, false
	case bool:
		// json_extract yields 1/0 for JSON booleans
		if v {
			return path + " = ?", 1, true
		}
		return path + " = ?", 0, true
	case string, float64, float32, int, int32, int64, uint, uint32, uint64:
		return path + " = ?", v, true
	case json.Number:
		if f, err := v.Float64(); err == nil {
			return path + " = ?", f, true
		}
		return path + " = ?", v.String(), true
	default:
		// objects and arrays come back from json_extract as minified JSON
		raw, err := json.Marshal(v)
		if err != nil {
			return path + " = ?", fmt.Sprint(v), true
		}
		return path + " = json(?)", string(raw), true
	}
}

// sanitizeKey strips every character outside [A-Za-z0-9_]
func sanitizeKey(key string) string {
	var b strings.Builder
	for _, r := range key {
		if r == '_' || (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// escapeLike escapes LIKE wildcards with backslash
func escapeLike(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return r.Replace(s)
}

// normalizeKeywords trims keywords and drops empty ones
func normalizeKeywords(keywords []string) []string {
	out := make([]string, 0, len(keywords))
	for _, kw := range keywords {
		if kw = strings.TrimSpace(kw); kw != "" {
			out = append(out, kw)
		}
	}
	return out
}
