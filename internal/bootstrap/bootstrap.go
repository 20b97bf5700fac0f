// Copyright (c) 2026 TMS Team
// TMS - Trust Manager System
// This source code is licensed under the MIT license found in the LICENSE file.

// Package bootstrap seeds a freshly installed database: the default and test
// tenants, one administrator per tenant, and the test fixtures exercised by
// the end-to-end suite. Seeding is idempotent; rows that already exist are
// left alone.
package bootstrap

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"

	"golang.org/x/crypto/bcrypt"

	"github.com/trustmgr/tms/internal/db"
	"github.com/trustmgr/tms/internal/logging"
	"github.com/trustmgr/tms/internal/model"
	"github.com/trustmgr/tms/internal/policy"
)

// The tenants created on first run.
const (
	DefaultTenant = "default"
	TestTenant    = "test"
)

// Test fixtures. These names are fixed; the end-to-end scenarios and client
// integration suites depend on them.
const (
	TestClientID     = "testclient1"
	TestClientSecret = "secret1"
	TestUserID       = "testuser1"
	TestHost         = "testhost1"
	TestHostAccount  = "testhostaccount1"
)

// AdminCredential is a freshly generated administrator login, reported back
// to the operator exactly once. Only the bcrypt hash is stored.
type AdminCredential struct {
	Tenant    string
	AdminUser string
	Password  string
}

// Seed populates an empty database. The test tenant row is created enabled
// only when the enable_test_tenant option is set. Seed returns the generated
// administrator credentials for any admin rows it created; an already-seeded
// database yields an empty slice.
func Seed(ctx context.Context, store *db.Store, enableTestTenant bool) ([]AdminCredential, error) {
	var creds []AdminCredential
	tenants := []struct {
		name    string
		enabled bool
	}{
		{DefaultTenant, true},
		{TestTenant, enableTestTenant},
	}
	for _, tn := range tenants {
		if err := ensureTenant(ctx, store, tn.name, tn.enabled); err != nil {
			return nil, err
		}
		cred, err := ensureAdmin(ctx, store, tn.name)
		if err != nil {
			return nil, err
		}
		if cred != nil {
			creds = append(creds, *cred)
		}
	}
	if err := seedTestFixtures(ctx, store); err != nil {
		return nil, err
	}
	return creds, nil
}

func ensureTenant(ctx context.Context, store *db.Store, tenant string, enabled bool) error {
	err := store.CreateTenant(ctx, &model.Tenant{Tenant: tenant, Enabled: enabled})
	if err != nil && !errors.Is(err, db.ErrDuplicate) {
		return fmt.Errorf("failed to create tenant %q: %w", tenant, err)
	}
	if err == nil {
		logging.Infof("bootstrap: created tenant %q", tenant)
	}
	// The '*' identity row anchors wildcard bindings and delegations.
	if err := store.EnsureWildcardUser(ctx, tenant); err != nil {
		return fmt.Errorf("failed to ensure wildcard user for %q: %w", tenant, err)
	}
	return nil
}

// ensureAdmin creates the <tenant>_admin account with a random password.
// The password is returned for one-time display and only its hash persists.
func ensureAdmin(ctx context.Context, store *db.Store, tenant string) (*AdminCredential, error) {
	adminUser := tenant + "_admin"
	if _, err := store.GetAdmin(ctx, tenant, adminUser); err == nil {
		return nil, nil
	} else if !errors.Is(err, db.ErrNotFound) {
		return nil, err
	}

	password, err := randomPassword()
	if err != nil {
		return nil, fmt.Errorf("failed to generate admin password: %w", err)
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return nil, fmt.Errorf("failed to hash admin password: %w", err)
	}
	if err := store.CreateAdmin(ctx, &model.Admin{
		Tenant:      tenant,
		AdminUser:   adminUser,
		AdminSecret: string(hash),
		Privilege:   model.PrivTenantAdmin,
	}); err != nil {
		return nil, fmt.Errorf("failed to create admin %q: %w", adminUser, err)
	}
	logging.Infof("bootstrap: created administrator %q for tenant %q", adminUser, tenant)
	return &AdminCredential{Tenant: tenant, AdminUser: adminUser, Password: password}, nil
}

// seedTestFixtures installs the fixed client, user, binding and delegation
// in the test tenant. Runtime gating by enable_test_tenant keeps these inert
// in production deployments.
func seedTestFixtures(ctx context.Context, store *db.Store) error {
	ignoreDup := func(err error) error {
		if errors.Is(err, db.ErrDuplicate) {
			return nil
		}
		return err
	}

	if err := ignoreDup(store.CreateClient(ctx, &model.Client{
		Tenant:       TestTenant,
		AppName:      "tms-test-client",
		AppVersion:   "1.0",
		ClientID:     TestClientID,
		ClientSecret: policy.HashClientSecret(TestClientSecret),
		Enabled:      true,
	})); err != nil {
		return fmt.Errorf("failed to seed test client: %w", err)
	}

	if err := ignoreDup(store.CreateUserMfa(ctx, &model.UserMfa{
		Tenant:    TestTenant,
		TmsUserID: TestUserID,
		ExpiresAt: model.NeverExpires,
		Enabled:   true,
	})); err != nil {
		return fmt.Errorf("failed to seed test user: %w", err)
	}

	if err := ignoreDup(store.CreateUserHost(ctx, &model.UserHost{
		Tenant:      TestTenant,
		TmsUserID:   TestUserID,
		Host:        TestHost,
		HostAccount: TestHostAccount,
		ExpiresAt:   model.NeverExpires,
	})); err != nil {
		return fmt.Errorf("failed to seed test user-host binding: %w", err)
	}

	if err := ignoreDup(store.CreateDelegation(ctx, &model.Delegation{
		Tenant:       TestTenant,
		ClientID:     TestClientID,
		ClientUserID: TestUserID,
		ExpiresAt:    model.NeverExpires,
	})); err != nil {
		return fmt.Errorf("failed to seed test delegation: %w", err)
	}

	if err := ignoreDup(store.CreateHost(ctx, &model.Host{
		Tenant: TestTenant,
		Host:   TestHost,
		Addr:   "127.0.0.*",
	})); err != nil {
		return fmt.Errorf("failed to seed test host: %w", err)
	}
	return nil
}

// randomPassword returns a 192-bit random string in URL-safe base64.
func randomPassword() (string, error) {
	buf := make([]byte, 24)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}
