// Copyright (c) 2026 TMS Team
// TMS - Trust Manager System
// This source code is licensed under the MIT license found in the LICENSE file.

package model

import "fmt"

// Administrator privileges. The storage engine has no enumerated type, so
// the set is validated here before any admin row is written.
const (
	PrivTenantAdmin = "TENANT_ADMIN"
)

var privileges = map[string]struct{}{
	PrivTenantAdmin: {},
}

// ValidatePrivilege rejects privilege strings outside the enumerated set.
func ValidatePrivilege(p string) error {
	if _, ok := privileges[p]; !ok {
		return fmt.Errorf("unknown admin privilege %q", p)
	}
	return nil
}
