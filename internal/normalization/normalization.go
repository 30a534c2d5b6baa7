package normalization

import (
	"strings"
	"unicode"
)

func ParseInputString(input string) string {
	return strings.ToLower(strings.TrimSpace(input))
}

// titles stripped from patient names before comparison. Lab reports routinely
// prefix these, and "Dr. John Smith" and "John Smith" must land in one vault.
var nameTitles = map[string]bool{
	"dr": true, "mr": true, "mrs": true, "ms": true, "prof": true,
	"master": true, "miss": true,
}

// NormalizeOwnerName produces the canonical key a patient vault is grouped
// under: lowercase, whitespace-collapsed, titles removed, punctuation
// stripped and "Last, First" reordered to "first last".
func NormalizeOwnerName(name string) string {
	name = strings.ToLower(strings.TrimSpace(name))
	if name == "" {
		return ""
	}

	if i := strings.Index(name, ","); i >= 0 {
		last := strings.TrimSpace(name[:i])
		first := strings.TrimSpace(name[i+1:])
		if last != "" && first != "" {
			name = first + " " + last
		}
	}

	var b strings.Builder
	for _, r := range name {
		if unicode.IsLetter(r) || unicode.IsDigit(r) || unicode.IsSpace(r) {
			b.WriteRune(r)
		}
	}

	words := strings.Fields(b.String())
	kept := words[:0]
	for _, w := range words {
		if nameTitles[strings.TrimSuffix(w, ".")] {
			continue
		}
		kept = append(kept, w)
	}
	return strings.Join(kept, " ")
}

// OwnerVaultKey converts a normalized owner name into a storage-safe
// identifier ("jane doe" -> "jane_doe").
func OwnerVaultKey(normalized string) string {
	return strings.ReplaceAll(normalized, " ", "_")
}
