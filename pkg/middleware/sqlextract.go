package middleware

import (
	"regexp"
	"strings"

	"github.com/caremetrix/mcp-sql-gateway/pkg/sqlanalyzer"
)

// extractTables lists the tables a SQL text references, for audit
// attribution. The structural analyzer handles anything it can parse; a
// regex pass covers text the parser rejects, so even queries the
// pipeline refused are attributed in the audit trail. Best effort by
// design: enforcement happens in the guard, never here.
func extractTables(sqlText string) []string {
	analysis := sqlanalyzer.Parse(sqlText)
	if keys := analysis.TableKeys(); len(keys) > 0 {
		return keys
	}
	return extractTablesWithRegex(sqlText)
}

var (
	// cteNamePattern matches "WITH name AS (" and ", name AS (" so CTE
	// aliases are not reported as physical tables.
	cteNamePattern = regexp.MustCompile(`(?i)(?:WITH|,)\s+([a-zA-Z_][a-zA-Z0-9_]*)\s+AS\s*\(`)

	// tableRefPattern matches FROM/JOIN with one- or two-part names.
	tableRefPattern = regexp.MustCompile(`(?i)(?:FROM|JOIN)\s+` +
		`([a-zA-Z_][a-zA-Z0-9_]*(?:\.[a-zA-Z_][a-zA-Z0-9_]*)?)`)
)

func extractTablesWithRegex(sqlText string) []string {
	cteNames := make(map[string]bool)
	for _, match := range cteNamePattern.FindAllStringSubmatch(sqlText, -1) {
		if len(match) >= 2 {
			cteNames[strings.ToLower(match[1])] = true
		}
	}

	matches := tableRefPattern.FindAllStringSubmatch(sqlText, -1)
	seen := make(map[string]bool)
	var tables []string
	for _, match := range matches {
		if len(match) < 2 {
			continue
		}
		name := match[1]
		key := strings.ToLower(name)
		if seen[key] || cteNames[key] {
			continue
		}
		seen[key] = true
		tables = append(tables, name)
	}
	return tables
}
