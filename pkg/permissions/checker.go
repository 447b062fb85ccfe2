// Package permissions provides utilities for checking a caller's granted
// permissions against required permissions with support for wildcards.
//
// Permission Format:
//   - "*" - Full access (all permissions)
//   - "resource.*" - All actions on a resource (e.g., "ledger.*")
//   - "resource.action" - Specific action (e.g., "ledger.read")
//   - "resource.subresource.action" - Nested permission (e.g., "ledger.movements.create")
package permissions

import (
	"strings"
)

// HasPermission checks if the user's permissions include the required permission.
// Supports wildcard matching:
//   - "*" matches everything
//   - "ledger.*" matches "ledger.read", "ledger.movements.create", etc.
//   - Exact match for specific permissions
func HasPermission(userPerms []string, required string) bool {
	if required == "" {
		return true // No permission required
	}

	for _, p := range userPerms {
		if p == "*" {
			return true // Full admin access
		}
		if p == required {
			return true // Exact match
		}
		// Check wildcard patterns like "ledger.*"
		if strings.HasSuffix(p, ".*") {
			prefix := strings.TrimSuffix(p, ".*")
			if strings.HasPrefix(required, prefix+".") {
				return true
			}
		}
	}
	return false
}

// HasAnyPermission checks if the user has any of the required permissions.
func HasAnyPermission(userPerms []string, required []string) bool {
	for _, req := range required {
		if HasPermission(userPerms, req) {
			return true
		}
	}
	return false
}

// HasAllPermissions checks if the user has all of the required permissions.
func HasAllPermissions(userPerms []string, required []string) bool {
	for _, req := range required {
		if !HasPermission(userPerms, req) {
			return false
		}
	}
	return true
}

// Permissions the ledger service checks.
const (
	LedgerRead              = "ledger.read"
	LedgerMovementsCreate   = "ledger.movements.create"
	LedgerDestructionCreate = "ledger.destruction.create"
	LedgerQuarantineManage  = "ledger.quarantine.manage"
)

// CommonPermissions lists the capabilities the ledger service checks.
var CommonPermissions = []string{
	LedgerRead,
	LedgerMovementsCreate,
	LedgerDestructionCreate,
	LedgerQuarantineManage,
	"ledger.*",

	// Full access
	"*",
}

// IsValidPermission checks if a permission string is in the known list.
// Allows wildcards and custom permissions not in the standard list.
func IsValidPermission(perm string) bool {
	if perm == "*" {
		return true
	}

	for _, p := range CommonPermissions {
		if p == perm {
			return true
		}
	}

	// Allow any permission that follows the pattern resource.action
	parts := strings.Split(perm, ".")
	return len(parts) >= 2
}
