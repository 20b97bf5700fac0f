// Copyright (c) 2026 TMS Team
// TMS - Trust Manager System
// This source code is licensed under the MIT license found in the LICENSE file.

package bootstrap

import (
	"context"
	"testing"

	"golang.org/x/crypto/bcrypt"

	"github.com/trustmgr/tms/internal/db"
	"github.com/trustmgr/tms/internal/model"
	"github.com/trustmgr/tms/internal/policy"
)

func newTestStore(t *testing.T, name string) *db.Store {
	t.Helper()
	s, err := db.Open("file:bootstrap_" + name + "?mode=memory&cache=shared")
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestSeedCreatesTenantsAndAdmins(t *testing.T) {
	s := newTestStore(t, "seed")
	ctx := context.Background()

	creds, err := Seed(ctx, s, true)
	if err != nil {
		t.Fatalf("seed: %v", err)
	}
	if len(creds) != 2 {
		t.Fatalf("got %d admin credentials, want 2", len(creds))
	}

	for _, tenant := range []string{DefaultTenant, TestTenant} {
		tn, err := s.GetTenant(ctx, tenant)
		if err != nil {
			t.Fatalf("tenant %q missing: %v", tenant, err)
		}
		if !tn.Enabled {
			t.Errorf("tenant %q should be enabled", tenant)
		}
		// The wildcard identity anchors wildcard bindings.
		if _, err := s.GetUserMfa(ctx, tenant, model.Wildcard); err != nil {
			t.Errorf("wildcard user missing for %q: %v", tenant, err)
		}
	}

	// The reported passwords verify against the stored bcrypt hashes.
	for _, cred := range creds {
		a, err := s.GetAdmin(ctx, cred.Tenant, cred.AdminUser)
		if err != nil {
			t.Fatalf("admin %q missing: %v", cred.AdminUser, err)
		}
		if a.Privilege != model.PrivTenantAdmin {
			t.Errorf("admin %q privilege = %q", cred.AdminUser, a.Privilege)
		}
		if bcrypt.CompareHashAndPassword([]byte(a.AdminSecret), []byte(cred.Password)) != nil {
			t.Errorf("reported password for %q does not match stored hash", cred.AdminUser)
		}
	}
}

func TestSeedDisabledTestTenant(t *testing.T) {
	s := newTestStore(t, "disabled")
	ctx := context.Background()

	if _, err := Seed(ctx, s, false); err != nil {
		t.Fatalf("seed: %v", err)
	}

	tn, err := s.GetTenant(ctx, TestTenant)
	if err != nil {
		t.Fatalf("test tenant missing: %v", err)
	}
	if tn.Enabled {
		t.Error("test tenant should be seeded disabled")
	}
	def, err := s.GetTenant(ctx, DefaultTenant)
	if err != nil {
		t.Fatalf("default tenant missing: %v", err)
	}
	if !def.Enabled {
		t.Error("default tenant should always be enabled")
	}
}

func TestSeedIsIdempotent(t *testing.T) {
	s := newTestStore(t, "idem")
	ctx := context.Background()

	if _, err := Seed(ctx, s, true); err != nil {
		t.Fatalf("first seed: %v", err)
	}
	creds, err := Seed(ctx, s, true)
	if err != nil {
		t.Fatalf("second seed: %v", err)
	}
	// Credentials are only reported on creation.
	if len(creds) != 0 {
		t.Fatalf("second seed reported %d credentials, want 0", len(creds))
	}

	tenants, err := s.ListTenants(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(tenants) != 2 {
		t.Fatalf("got %d tenants after reseeding, want 2", len(tenants))
	}
}

func TestSeedInstallsTestFixtures(t *testing.T) {
	s := newTestStore(t, "fixtures")
	ctx := context.Background()

	if _, err := Seed(ctx, s, true); err != nil {
		t.Fatalf("seed: %v", err)
	}

	c, err := s.GetClient(ctx, TestTenant, TestClientID)
	if err != nil {
		t.Fatalf("test client missing: %v", err)
	}
	if !policy.VerifyClientSecret(c.ClientSecret, TestClientSecret) {
		t.Error("test client secret hash does not verify")
	}
	if _, err := s.GetUserMfa(ctx, TestTenant, TestUserID); err != nil {
		t.Errorf("test user missing: %v", err)
	}
	if _, err := s.GetUserHost(ctx, TestTenant, TestUserID, TestHost, TestHostAccount); err != nil {
		t.Errorf("test user-host binding missing: %v", err)
	}
	if _, err := s.GetDelegation(ctx, TestTenant, TestClientID, TestUserID); err != nil {
		t.Errorf("test delegation missing: %v", err)
	}
	hosts, err := s.ListHosts(ctx, TestTenant)
	if err != nil || len(hosts) != 1 || hosts[0].Host != TestHost {
		t.Errorf("test host catalog entry missing: %v %+v", err, hosts)
	}
}
