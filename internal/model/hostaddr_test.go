// Copyright (c) 2026 TMS Team
// TMS - Trust Manager System
// This source code is licensed under the MIT license found in the LICENSE file.

package model

import "testing"

func TestValidateHostAddr(t *testing.T) {
	valid := []string{
		"192.168.1.7",
		"0.0.0.0",
		"255.255.255.255",
		"192.168.1.*",
		"[10.0.0.1, 10.0.0.99]",
		"[10.0.0.1,10.0.0.99]",
	}
	for _, addr := range valid {
		if err := ValidateHostAddr(addr); err != nil {
			t.Errorf("ValidateHostAddr(%q) = %v, want nil", addr, err)
		}
	}

	invalid := []string{
		"",
		"example.com",
		"192.168.1",
		"192.168.1.256",
		"192.*.1.7",
		"*.168.1.7",
		"[10.0.0.1]",
		"[10.0.0.1, 10.0.0.2, 10.0.0.3]",
		"[10.0.0.1, 10.0.0.*]",
		"[10.0.0.1, 10.0.0.99",
	}
	for _, addr := range invalid {
		if err := ValidateHostAddr(addr); err == nil {
			t.Errorf("ValidateHostAddr(%q) = nil, want error", addr)
		}
	}
}

func TestValidatePrivilege(t *testing.T) {
	if err := ValidatePrivilege(PrivTenantAdmin); err != nil {
		t.Fatalf("TENANT_ADMIN should validate: %v", err)
	}
	if err := ValidatePrivilege("SUPERUSER"); err == nil {
		t.Fatal("unknown privilege should be rejected")
	}
}
