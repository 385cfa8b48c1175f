package auth

import (
	"encoding/json"
	"strconv"
	"strings"
)

// ClaimsExtractor maps token claims onto a Principal. Paths are
// dot-separated for nested claim objects, e.g. "realm_access.roles".
type ClaimsExtractor struct {
	SubjectClaimPath string
	EmailClaimPath   string
	NameClaimPath    string

	// RolesClaimPath locates the caller's roles. RolePrefix, when set,
	// keeps only roles starting with that prefix.
	RolesClaimPath string
	RolePrefix     string

	// PracticeIDsClaimPath locates the tenant scope: the practice ids the
	// caller may query. Entries may arrive as JSON numbers or numeric
	// strings; anything unparseable is dropped, which only narrows scope.
	PracticeIDsClaimPath string

	// CapabilitiesClaimPath locates fine-grained grants such as
	// unrestricted_execute.
	CapabilitiesClaimPath string

	// SuperAdminRole marks the role name that confers super admin.
	SuperAdminRole string
}

// DefaultClaimsExtractor returns an extractor with the identity service's
// standard claim layout.
func DefaultClaimsExtractor() *ClaimsExtractor {
	return &ClaimsExtractor{
		SubjectClaimPath:      "sub",
		EmailClaimPath:        "email",
		NameClaimPath:         "name",
		RolesClaimPath:        "roles",
		PracticeIDsClaimPath:  "practice_ids",
		CapabilitiesClaimPath: "capabilities",
		SuperAdminRole:        "super_admin",
	}
}

// Extract builds a Principal from claims. Missing claims leave zero
// values; the caller decides which fields are mandatory.
func (e *ClaimsExtractor) Extract(claims map[string]any) *Principal {
	p := &Principal{Claims: claims}

	p.ID = e.stringAt(claims, e.SubjectClaimPath)
	p.Email = e.stringAt(claims, e.EmailClaimPath)
	p.Name = e.stringAt(claims, e.NameClaimPath)

	roles := e.stringsAt(claims, e.RolesClaimPath)
	if e.RolePrefix != "" {
		roles = filterByPrefix(roles, e.RolePrefix)
	}
	p.Roles = roles

	p.Capabilities = e.stringsAt(claims, e.CapabilitiesClaimPath)
	p.PracticeIDs = e.int64sAt(claims, e.PracticeIDsClaimPath)

	if e.SuperAdminRole != "" && p.HasRole(e.SuperAdminRole) {
		p.SuperAdmin = true
	}

	return p
}

func (e *ClaimsExtractor) stringAt(claims map[string]any, path string) string {
	if s, ok := e.valueAt(claims, path).(string); ok {
		return s
	}
	return ""
}

func (e *ClaimsExtractor) stringsAt(claims map[string]any, path string) []string {
	switch value := e.valueAt(claims, path).(type) {
	case []any:
		result := make([]string, 0, len(value))
		for _, v := range value {
			if s, ok := v.(string); ok {
				result = append(result, s)
			}
		}
		return result
	case []string:
		return value
	default:
		return nil
	}
}

func (e *ClaimsExtractor) int64sAt(claims map[string]any, path string) []int64 {
	arr, ok := e.valueAt(claims, path).([]any)
	if !ok {
		return nil
	}
	result := make([]int64, 0, len(arr))
	for _, v := range arr {
		if id, ok := toInt64(v); ok {
			result = append(result, id)
		}
	}
	return result
}

func toInt64(v any) (int64, bool) {
	switch n := v.(type) {
	case float64:
		return int64(n), true
	case int64:
		return n, true
	case int:
		return int64(n), true
	case json.Number:
		id, err := n.Int64()
		return id, err == nil
	case string:
		id, err := strconv.ParseInt(n, 10, 64)
		return id, err == nil
	default:
		return 0, false
	}
}

// valueAt walks a dot-separated path through nested claim objects.
func (e *ClaimsExtractor) valueAt(claims map[string]any, path string) any {
	if path == "" {
		return nil
	}
	var current any = claims
	for _, part := range strings.Split(path, ".") {
		m, ok := current.(map[string]any)
		if !ok {
			return nil
		}
		current = m[part]
	}
	return current
}

func filterByPrefix(items []string, prefix string) []string {
	result := make([]string, 0, len(items))
	for _, item := range items {
		if strings.HasPrefix(item, prefix) {
			result = append(result, item)
		}
	}
	return result
}
