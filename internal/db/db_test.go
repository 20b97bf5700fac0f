// Copyright (c) 2026 TMS Team
// TMS - Trust Manager System
// This source code is licensed under the MIT license found in the LICENSE file.

package db

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/trustmgr/tms/internal/model"
)

// newTestStore opens a uniquely named shared-cache in-memory database so
// each test gets an isolated schema.
func newTestStore(t *testing.T, name string) *Store {
	t.Helper()
	dsn := fmt.Sprintf("file:test_%s?mode=memory&cache=shared", name)
	s, err := Open(dsn)
	if err != nil {
		t.Fatalf("failed to open test store: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

// seedGraph installs a minimal policy graph: tenant t1, client c1, user u1,
// a binding and delegation, and one pubkey with three uses.
func seedGraph(t *testing.T, s *Store) *model.Pubkey {
	t.Helper()
	ctx := context.Background()
	if err := s.CreateTenant(ctx, &model.Tenant{Tenant: "t1", Enabled: true}); err != nil {
		t.Fatalf("create tenant: %v", err)
	}
	if err := s.CreateClient(ctx, &model.Client{Tenant: "t1", ClientID: "c1", ClientSecret: "hash", Enabled: true}); err != nil {
		t.Fatalf("create client: %v", err)
	}
	if err := s.CreateUserMfa(ctx, &model.UserMfa{Tenant: "t1", TmsUserID: "u1", ExpiresAt: model.NeverExpires, Enabled: true}); err != nil {
		t.Fatalf("create user_mfa: %v", err)
	}
	if err := s.CreateUserHost(ctx, &model.UserHost{Tenant: "t1", TmsUserID: "u1", Host: "h1", HostAccount: "a1", ExpiresAt: model.NeverExpires}); err != nil {
		t.Fatalf("create user_host: %v", err)
	}
	if err := s.CreateDelegation(ctx, &model.Delegation{Tenant: "t1", ClientID: "c1", ClientUserID: "u1", ExpiresAt: model.NeverExpires}); err != nil {
		t.Fatalf("create delegation: %v", err)
	}
	p := &model.Pubkey{
		Tenant: "t1", ClientID: "c1", ClientUserID: "u1",
		Host: "h1", HostAccount: "a1",
		Fingerprint: "SHA256:abc", PublicKey: "ssh-ed25519 AAAA test",
		KeyType: "ED25519", KeyBits: 256,
		MaxUses: 3, RemainingUses: 3,
		ExpiresAt: model.NeverExpires,
	}
	if err := s.CreatePubkey(ctx, p); err != nil {
		t.Fatalf("create pubkey: %v", err)
	}
	return p
}

func auditCount(t *testing.T, s *Store, table, action, field string) int {
	t.Helper()
	var n int
	err := s.sql.QueryRow(
		fmt.Sprintf("SELECT COUNT(*) FROM %s WHERE action = ? AND field = ?", table),
		action, field).Scan(&n)
	if err != nil {
		t.Fatalf("count %s: %v", table, err)
	}
	return n
}

func TestMigrationsApplied(t *testing.T) {
	s := newTestStore(t, "migrations")
	var n int
	if err := s.sql.QueryRow("SELECT COUNT(*) FROM schema_migrations").Scan(&n); err != nil {
		t.Fatalf("schema_migrations missing: %v", err)
	}
	if n != 3 {
		t.Fatalf("expected 3 applied migrations, got %d", n)
	}
	// A second open against the same database re-applies nothing.
	if err := RunMigrations(s.sql); err != nil {
		t.Fatalf("re-running migrations failed: %v", err)
	}
	if err := s.sql.QueryRow("SELECT COUNT(*) FROM schema_migrations").Scan(&n); err != nil {
		t.Fatal(err)
	}
	if n != 3 {
		t.Fatalf("migrations re-applied, count now %d", n)
	}
}

func TestDuplicateClientIsErrDuplicate(t *testing.T) {
	s := newTestStore(t, "dup_client")
	seedGraph(t, s)
	ctx := context.Background()
	err := s.CreateClient(ctx, &model.Client{Tenant: "t1", ClientID: "c1", ClientSecret: "other", Enabled: true})
	if !errors.Is(err, ErrDuplicate) {
		t.Fatalf("expected ErrDuplicate, got %v", err)
	}
}

func TestAuditInsertAndDelete(t *testing.T) {
	s := newTestStore(t, "audit_ins")
	seedGraph(t, s)
	ctx := context.Background()

	if n := auditCount(t, s, "tenants_audit", "INSERT", "row"); n != 1 {
		t.Fatalf("expected 1 tenant insert audit row, got %d", n)
	}
	if n := auditCount(t, s, "pubkeys_audit", "INSERT", "row"); n != 1 {
		t.Fatalf("expected 1 pubkey insert audit row, got %d", n)
	}

	if err := s.DeletePubkey(ctx, "SHA256:abc", "h1"); err != nil {
		t.Fatalf("delete pubkey: %v", err)
	}
	if n := auditCount(t, s, "pubkeys_audit", "DELETE", "row"); n != 1 {
		t.Fatalf("expected 1 pubkey delete audit row, got %d", n)
	}
}

func TestAuditUpdateExcludesHousekeeping(t *testing.T) {
	s := newTestStore(t, "audit_upd")
	seedGraph(t, s)
	ctx := context.Background()

	if err := s.SetTenantEnabled(ctx, "t1", false); err != nil {
		t.Fatalf("disable tenant: %v", err)
	}
	// The write touched both enabled and updated; only enabled is audited.
	if n := auditCount(t, s, "tenants_audit", "UPDATE", "enabled"); n != 1 {
		t.Fatalf("expected 1 enabled update audit row, got %d", n)
	}
	if n := auditCount(t, s, "tenants_audit", "UPDATE", "updated"); n != 0 {
		t.Fatalf("updated column must not be audited, got %d rows", n)
	}
}

func TestAuditMasksAdminSecret(t *testing.T) {
	s := newTestStore(t, "audit_admin")
	seedGraph(t, s)
	ctx := context.Background()

	if err := s.CreateAdmin(ctx, &model.Admin{Tenant: "t1", AdminUser: "root1", AdminSecret: "bcrypt-hash-1", Privilege: "TENANT_ADMIN"}); err != nil {
		t.Fatalf("create admin: %v", err)
	}
	if err := s.UpdateAdminSecret(ctx, "t1", "root1", "bcrypt-hash-2"); err != nil {
		t.Fatalf("update admin secret: %v", err)
	}

	rows, err := s.sql.Query("SELECT oldvalue, newvalue FROM admin_audit")
	if err != nil {
		t.Fatal(err)
	}
	defer func() { _ = rows.Close() }()
	for rows.Next() {
		var oldv, newv string
		if err := rows.Scan(&oldv, &newv); err != nil {
			t.Fatal(err)
		}
		for _, v := range []string{oldv, newv} {
			if strings.Contains(v, "bcrypt-hash-1") || strings.Contains(v, "bcrypt-hash-2") {
				t.Fatalf("admin secret leaked into audit: %q", v)
			}
		}
	}
}

func TestDeleteUserMfaCascades(t *testing.T) {
	s := newTestStore(t, "cascade_user")
	seedGraph(t, s)
	ctx := context.Background()

	if err := s.CreateReservation(ctx, &model.Reservation{
		Resid: "r1", Tenant: "t1", ClientID: "c1", ClientUserID: "u1",
		Host: "h1", Fingerprint: "SHA256:abc", ExpiresAt: model.NeverExpires,
	}); err != nil {
		t.Fatalf("create reservation: %v", err)
	}

	if err := s.DeleteUserMfa(ctx, "t1", "u1"); err != nil {
		t.Fatalf("delete user_mfa: %v", err)
	}

	for _, q := range []string{
		"SELECT COUNT(*) FROM user_hosts WHERE tenant = 't1'",
		"SELECT COUNT(*) FROM delegations WHERE tenant = 't1'",
		"SELECT COUNT(*) FROM pubkeys WHERE tenant = 't1'",
		"SELECT COUNT(*) FROM reservations WHERE tenant = 't1'",
	} {
		var n int
		if err := s.sql.QueryRow(q).Scan(&n); err != nil {
			t.Fatal(err)
		}
		if n != 0 {
			t.Fatalf("cascade left rows behind: %s -> %d", q, n)
		}
	}
}

func TestRenameTenantCascades(t *testing.T) {
	s := newTestStore(t, "rename")
	seedGraph(t, s)
	ctx := context.Background()

	if err := s.RenameTenant(ctx, "t1", "t2"); err != nil {
		t.Fatalf("rename tenant: %v", err)
	}

	tables := []string{"clients", "user_mfa", "user_hosts", "delegations", "pubkeys"}
	for _, table := range tables {
		var old, renamed int
		if err := s.sql.QueryRow(fmt.Sprintf("SELECT COUNT(*) FROM %s WHERE tenant = 't1'", table)).Scan(&old); err != nil {
			t.Fatal(err)
		}
		if err := s.sql.QueryRow(fmt.Sprintf("SELECT COUNT(*) FROM %s WHERE tenant = 't2'", table)).Scan(&renamed); err != nil {
			t.Fatal(err)
		}
		if old != 0 {
			t.Errorf("%s still has %d rows under the old tenant name", table, old)
		}
		if renamed == 0 {
			t.Errorf("%s has no rows under the new tenant name", table)
		}
	}

	if _, err := s.GetClient(ctx, "t2", "c1"); err != nil {
		t.Fatalf("client not reachable under renamed tenant: %v", err)
	}
	if _, err := s.GetTenant(ctx, "t1"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("old tenant name still resolves: %v", err)
	}
}

func TestDeleteTenantRestrictedWhileOccupied(t *testing.T) {
	s := newTestStore(t, "restrict")
	seedGraph(t, s)
	ctx := context.Background()

	err := s.DeleteTenant(ctx, "t1")
	if !errors.Is(err, ErrForeignKey) {
		t.Fatalf("expected ErrForeignKey deleting an occupied tenant, got %v", err)
	}
}

func TestDeleteTenantAndAnchorRollsBackOnFailure(t *testing.T) {
	s := newTestStore(t, "anchor_rollback")
	seedGraph(t, s)
	ctx := context.Background()

	if err := s.EnsureWildcardUser(ctx, "t1"); err != nil {
		t.Fatalf("ensure wildcard user: %v", err)
	}
	if err := s.CreateUserHost(ctx, &model.UserHost{
		Tenant: "t1", TmsUserID: model.Wildcard, Host: "h1", HostAccount: model.Wildcard,
		ExpiresAt: model.NeverExpires,
	}); err != nil {
		t.Fatalf("create wildcard binding: %v", err)
	}

	// The tenant still owns a client and a user, so the delete must fail
	// and leave the wildcard rows untouched.
	if err := s.DeleteTenantAndAnchor(ctx, "t1"); !errors.Is(err, ErrForeignKey) {
		t.Fatalf("expected ErrForeignKey deleting an occupied tenant, got %v", err)
	}
	if _, err := s.GetUserMfa(ctx, "t1", model.Wildcard); err != nil {
		t.Fatalf("wildcard anchor destroyed by a failed tenant delete: %v", err)
	}
	if _, err := s.GetUserHost(ctx, "t1", model.Wildcard, "h1", model.Wildcard); err != nil {
		t.Fatalf("wildcard binding destroyed by a failed tenant delete: %v", err)
	}

	// Once the tenant is empty the same call succeeds, anchor included.
	if err := s.DeleteUserMfa(ctx, "t1", "u1"); err != nil {
		t.Fatalf("delete user: %v", err)
	}
	if err := s.DeleteClient(ctx, "t1", "c1"); err != nil {
		t.Fatalf("delete client: %v", err)
	}
	if err := s.DeleteTenantAndAnchor(ctx, "t1"); err != nil {
		t.Fatalf("delete empty tenant: %v", err)
	}
	if _, err := s.GetTenant(ctx, "t1"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("tenant should be gone, got %v", err)
	}
}

func TestDuplicateAppIdentityIsErrDuplicate(t *testing.T) {
	s := newTestStore(t, "dup_app")
	seedGraph(t, s)
	ctx := context.Background()

	if err := s.CreateClient(ctx, &model.Client{
		Tenant: "t1", ClientID: "c2", ClientSecret: "hash2",
		AppName: "payroll", AppVersion: "1.0", Enabled: true,
	}); err != nil {
		t.Fatalf("first app identity: %v", err)
	}
	err := s.CreateClient(ctx, &model.Client{
		Tenant: "t1", ClientID: "c3", ClientSecret: "hash3",
		AppName: "payroll", AppVersion: "1.0", Enabled: true,
	})
	if !errors.Is(err, ErrDuplicate) {
		t.Fatalf("expected ErrDuplicate for a reused (app_name, app_version), got %v", err)
	}
}

func TestReservationCascadesWithItsUser(t *testing.T) {
	s := newTestStore(t, "res_user_cascade")
	seedGraph(t, s)
	ctx := context.Background()

	if err := s.CreateUserMfa(ctx, &model.UserMfa{
		Tenant: "t1", TmsUserID: "u2", ExpiresAt: model.NeverExpires, Enabled: true,
	}); err != nil {
		t.Fatalf("create second user: %v", err)
	}
	if err := s.CreateReservation(ctx, &model.Reservation{
		Resid: "r2", Tenant: "t1", ClientID: "c1", ClientUserID: "u2",
		Host: "h1", Fingerprint: "SHA256:abc", ExpiresAt: model.NeverExpires,
	}); err != nil {
		t.Fatalf("create reservation: %v", err)
	}

	if err := s.DeleteUserMfa(ctx, "t1", "u2"); err != nil {
		t.Fatalf("delete user: %v", err)
	}
	if _, err := s.GetReservation(ctx, "r2"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("reservation should cascade with its user, got %v", err)
	}
	// The key belongs to u1 and stays.
	if _, err := s.GetPubkeyByFingerprint(ctx, "SHA256:abc", "h1"); err != nil {
		t.Fatalf("pubkey should survive the other user's deletion: %v", err)
	}
}

func TestHostWithSeveralAddressPatterns(t *testing.T) {
	s := newTestStore(t, "host_addrs")
	seedGraph(t, s)
	ctx := context.Background()

	if err := s.CreateHost(ctx, &model.Host{Tenant: "t1", Host: "h9", Addr: "10.0.0.*"}); err != nil {
		t.Fatalf("first pattern: %v", err)
	}
	if err := s.CreateHost(ctx, &model.Host{Tenant: "t1", Host: "h9", Addr: "192.168.1.*"}); err != nil {
		t.Fatalf("second pattern: %v", err)
	}
	err := s.CreateHost(ctx, &model.Host{Tenant: "t1", Host: "h9", Addr: "10.0.0.*"})
	if !errors.Is(err, ErrDuplicate) {
		t.Fatalf("expected ErrDuplicate for a repeated pattern, got %v", err)
	}

	if err := s.UpdateHostAddr(ctx, "t1", "h9", "10.0.0.*", "10.1.0.*"); err != nil {
		t.Fatalf("update pattern: %v", err)
	}
	if _, err := s.GetHost(ctx, "t1", "h9", "10.1.0.*"); err != nil {
		t.Fatalf("updated pattern missing: %v", err)
	}

	if err := s.DeleteHost(ctx, "t1", "h9", "192.168.1.*"); err != nil {
		t.Fatalf("delete pattern: %v", err)
	}
	hs, err := s.ListHosts(ctx, "t1")
	if err != nil {
		t.Fatal(err)
	}
	if len(hs) != 1 || hs[0].Addr != "10.1.0.*" {
		t.Fatalf("unexpected host rows: %+v", hs)
	}
}

func TestDecrementPubkeyUsesCAS(t *testing.T) {
	s := newTestStore(t, "cas")
	p := seedGraph(t, s)
	ctx := context.Background()

	ok, err := s.DecrementPubkeyUses(ctx, p.ID, 3)
	if err != nil || !ok {
		t.Fatalf("first decrement: ok=%t err=%v", ok, err)
	}
	// Stale observation loses.
	ok, err = s.DecrementPubkeyUses(ctx, p.ID, 3)
	if err != nil {
		t.Fatalf("stale decrement errored: %v", err)
	}
	if ok {
		t.Fatal("stale observation must not win the compare-and-set")
	}

	got, err := s.GetPubkeyByFingerprint(ctx, p.Fingerprint, p.Host)
	if err != nil {
		t.Fatal(err)
	}
	if got.RemainingUses != 2 {
		t.Fatalf("remaining_uses = %d, want 2", got.RemainingUses)
	}
}

func TestRemainingUsesCheckConstraint(t *testing.T) {
	s := newTestStore(t, "check")
	seedGraph(t, s)

	_, err := s.sql.Exec("UPDATE pubkeys SET remaining_uses = -1 WHERE public_key_fingerprint = 'SHA256:abc'")
	if MapDBError(err) != ErrCheck {
		t.Fatalf("expected check constraint violation, got %v", err)
	}
}

func TestEnsureWildcardUserIsIdempotent(t *testing.T) {
	s := newTestStore(t, "wildcard")
	seedGraph(t, s)
	ctx := context.Background()

	if err := s.EnsureWildcardUser(ctx, "t1"); err != nil {
		t.Fatalf("first ensure: %v", err)
	}
	if err := s.EnsureWildcardUser(ctx, "t1"); err != nil {
		t.Fatalf("second ensure: %v", err)
	}
	u, err := s.GetUserMfa(ctx, "t1", model.Wildcard)
	if err != nil {
		t.Fatalf("wildcard row missing: %v", err)
	}
	if u.ExpiresAt != model.NeverExpires {
		t.Fatalf("wildcard row expires at %q, want the never sentinel", u.ExpiresAt)
	}
}

func TestListAuditRejectsUnknownTable(t *testing.T) {
	s := newTestStore(t, "audit_list")
	if _, err := s.ListAudit(context.Background(), "schema_migrations", 10); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound for non-audit table, got %v", err)
	}
}
