package sqlanalyzer

import (
	"regexp"
	"strings"
)

// destructivePattern matches write and DDL keywords on word boundaries,
// case-insensitively. The scan is purely lexical: it runs before parsing
// and deliberately does not interpret comments or string literals. A
// keyword smuggled into a literal produces a false positive and a
// rejection, which is the acceptable failure mode for a screen that only
// ever rejects and never rewrites.
var destructivePattern = regexp.MustCompile(
	`(?i)\b(drop|truncate|delete|insert|update|alter|create|grant|revoke)\b`)

// ScanDestructiveKeywords returns every destructive keyword present in the
// text, upper-cased, de-duplicated, in first-appearance order. An empty
// result means the screen passed.
func ScanDestructiveKeywords(sql string) []string {
	matches := destructivePattern.FindAllString(sql, -1)
	if len(matches) == 0 {
		return nil
	}
	seen := make(map[string]bool, len(matches))
	keywords := make([]string, 0, len(matches))
	for _, m := range matches {
		kw := strings.ToUpper(m)
		if seen[kw] {
			continue
		}
		seen[kw] = true
		keywords = append(keywords, kw)
	}
	return keywords
}
