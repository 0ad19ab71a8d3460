package router

import "strings"

// Invalidation scopes are named buckets of cached data the portal
// must refetch. The mapping from "{entityType}.{action}" to scopes is
// an explicit table matched by longest dotted prefix; anything not
// listed falls through to the documented default (activity history
// plus the shared dashboards).
//
// Scope strings are qualified with the resolved tenant so a
// multi-tenant cache layer can invalidate precisely.

// Shared dashboard buckets refreshed by every domain change.
var dashboardScopes = []string{"dashboard", "dashboard-kpis"}

type scopeRule struct {
	prefix string
	scopes []string
}

// scopeRules is ordered for readability only; matching picks the
// longest prefix that aligns on a dot boundary.
var scopeRules = []scopeRule{
	// User and account changes.
	{prefix: "user", scopes: []string{"users"}},
	{prefix: "account", scopes: []string{"users"}},

	// Task lifecycle.
	{prefix: "task", scopes: []string{"tasks"}},

	// Controlled documents.
	{prefix: "document", scopes: []string{"documents"}},

	// Audits.
	{prefix: "audit", scopes: []string{"audits"}},
	{prefix: "audit.finding", scopes: []string{"audits", "corrective-actions"}},

	// Corrective actions.
	{prefix: "capa", scopes: []string{"corrective-actions"}},
	{prefix: "corrective_action", scopes: []string{"corrective-actions"}},

	// Training records.
	{prefix: "training", scopes: []string{"training"}},
}

// matchesPrefix reports whether key equals prefix or extends it at a
// dot boundary ("audit.finding" matches "audit", "audits" does not).
func matchesPrefix(key, prefix string) bool {
	if !strings.HasPrefix(key, prefix) {
		return false
	}
	return len(key) == len(prefix) || key[len(prefix)] == '.'
}

// ScopesFor resolves the invalidation scope set for one accepted
// event. The activity-history bucket for the tenant/department pair
// is always included.
func ScopesFor(entityType, action, tenant, department string) []string {
	key := entityType + "." + action

	var best *scopeRule
	for i := range scopeRules {
		rule := &scopeRules[i]
		if !matchesPrefix(key, rule.prefix) {
			continue
		}
		if best == nil || len(rule.prefix) > len(best.prefix) {
			best = rule
		}
	}

	scopes := []string{activityHistoryScope(tenant, department)}
	if best != nil {
		for _, s := range best.scopes {
			scopes = append(scopes, s+":"+tenant)
		}
	}
	for _, s := range dashboardScopes {
		scopes = append(scopes, s+":"+tenant)
	}
	return scopes
}

// BroadScopes is the full-resync set used for server-signaled resets
// and manual refresh: every known bucket for the tenant.
func BroadScopes(tenant, department string) []string {
	scopes := []string{activityHistoryScope(tenant, department)}
	seen := map[string]struct{}{}
	for _, rule := range scopeRules {
		for _, s := range rule.scopes {
			if _, ok := seen[s]; ok {
				continue
			}
			seen[s] = struct{}{}
			scopes = append(scopes, s+":"+tenant)
		}
	}
	for _, s := range dashboardScopes {
		scopes = append(scopes, s+":"+tenant)
	}
	return scopes
}

func activityHistoryScope(tenant, department string) string {
	if department == "" {
		department = "all"
	}
	return "activity-history:" + tenant + ":" + department
}
