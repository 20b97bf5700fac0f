// Copyright (c) 2026 TMS Team
// TMS - Trust Manager System
// This source code is licensed under the MIT license found in the LICENSE file.

package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/uptrace/bun"

	"github.com/trustmgr/tms/internal/model"
)

// Store wraps the bun handle and exposes the typed queries the server uses.
// All methods map driver errors through MapDBError before returning. The bun
// field is an IDB so a Store can be bound to a transaction with WithTx.
type Store struct {
	bun bun.IDB
	sql *sql.DB
}

// Close releases the underlying connections.
func (s *Store) Close() error {
	return s.sql.Close()
}

// RunInTx executes fn inside a single database transaction.
func (s *Store) RunInTx(ctx context.Context, fn func(ctx context.Context, tx bun.Tx) error) error {
	return s.bun.RunInTx(ctx, nil, fn)
}

// WithTx returns a view of the store whose queries run on the given
// transaction. The view shares everything else with the parent.
func (s *Store) WithTx(tx bun.Tx) *Store {
	return &Store{bun: tx, sql: s.sql}
}

// --- Tenants ---

// CreateTenant inserts a new tenant namespace.
func (s *Store) CreateTenant(ctx context.Context, t *model.Tenant) error {
	now := model.Now()
	t.Created, t.Updated = now, now
	_, err := s.bun.NewInsert().Model(t).Exec(ctx)
	return MapDBError(err)
}

// GetTenant fetches a tenant by name.
func (s *Store) GetTenant(ctx context.Context, name string) (*model.Tenant, error) {
	var t model.Tenant
	err := s.bun.NewSelect().Model(&t).Where("tenant = ?", name).Scan(ctx)
	if err != nil {
		return nil, MapDBError(err)
	}
	return &t, nil
}

// ListTenants returns every tenant, ordered by name.
func (s *Store) ListTenants(ctx context.Context) ([]model.Tenant, error) {
	var ts []model.Tenant
	err := s.bun.NewSelect().Model(&ts).Order("tenant ASC").Scan(ctx)
	return ts, MapDBError(err)
}

// RenameTenant changes a tenant's name. The rename cascades to every child
// table through the deferred ON UPDATE CASCADE foreign keys, so it runs in
// one transaction.
func (s *Store) RenameTenant(ctx context.Context, oldName, newName string) error {
	return s.RunInTx(ctx, func(ctx context.Context, tx bun.Tx) error {
		res, err := tx.NewUpdate().Model((*model.Tenant)(nil)).
			Set("tenant = ?", newName).
			Set("updated = ?", model.Now()).
			Where("tenant = ?", oldName).
			Exec(ctx)
		if err != nil {
			return MapDBError(err)
		}
		n, _ := res.RowsAffected()
		if n == 0 {
			return ErrNotFound
		}
		return nil
	})
}

// SetTenantEnabled flips the enabled flag.
func (s *Store) SetTenantEnabled(ctx context.Context, name string, enabled bool) error {
	res, err := s.bun.NewUpdate().Model((*model.Tenant)(nil)).
		Set("enabled = ?", enabled).
		Set("updated = ?", model.Now()).
		Where("tenant = ?", name).
		Exec(ctx)
	if err != nil {
		return MapDBError(err)
	}
	return requireRows(res)
}

// DeleteTenant removes an empty tenant. A tenant that still owns rows fails
// with ErrForeignKey; children are never deleted implicitly.
func (s *Store) DeleteTenant(ctx context.Context, name string) error {
	res, err := s.bun.NewDelete().Model((*model.Tenant)(nil)).
		Where("tenant = ?", name).
		Exec(ctx)
	if err != nil {
		return MapDBError(err)
	}
	return requireRows(res)
}

// DeleteTenantAndAnchor removes a tenant together with its wildcard identity
// row. The anchor would otherwise always block the delete through its foreign
// key. Both deletes share one transaction: a tenant that still owns other
// rows fails the commit and the anchor delete rolls back with it.
func (s *Store) DeleteTenantAndAnchor(ctx context.Context, name string) error {
	err := s.RunInTx(ctx, func(ctx context.Context, tx bun.Tx) error {
		view := s.WithTx(tx)
		if err := view.DeleteUserMfa(ctx, name, model.Wildcard); err != nil && !errors.Is(err, ErrNotFound) {
			return err
		}
		return view.DeleteTenant(ctx, name)
	})
	// The deferred foreign keys fire at commit, outside the callback.
	return MapDBError(err)
}

// --- Admins ---

// CreateAdmin inserts a tenant administrator. AdminSecret must already be a
// bcrypt hash; this layer never sees plaintext.
func (s *Store) CreateAdmin(ctx context.Context, a *model.Admin) error {
	now := model.Now()
	a.Created, a.Updated = now, now
	_, err := s.bun.NewInsert().Model(a).Exec(ctx)
	return MapDBError(err)
}

// GetAdmin fetches an administrator within a tenant.
func (s *Store) GetAdmin(ctx context.Context, tenant, adminUser string) (*model.Admin, error) {
	var a model.Admin
	err := s.bun.NewSelect().Model(&a).
		Where("tenant = ?", tenant).
		Where("admin_user = ?", adminUser).
		Scan(ctx)
	if err != nil {
		return nil, MapDBError(err)
	}
	return &a, nil
}

// GetAdminByUser fetches an administrator by user name alone, for request
// authentication where the tenant is not yet known.
func (s *Store) GetAdminByUser(ctx context.Context, adminUser string) (*model.Admin, error) {
	var a model.Admin
	err := s.bun.NewSelect().Model(&a).
		Where("admin_user = ?", adminUser).
		Order("id ASC").
		Limit(1).
		Scan(ctx)
	if err != nil {
		return nil, MapDBError(err)
	}
	return &a, nil
}

// ListAdmins returns the administrators of a tenant.
func (s *Store) ListAdmins(ctx context.Context, tenant string) ([]model.Admin, error) {
	var as []model.Admin
	err := s.bun.NewSelect().Model(&as).
		Where("tenant = ?", tenant).
		Order("admin_user ASC").
		Scan(ctx)
	return as, MapDBError(err)
}

// UpdateAdminSecret replaces an administrator's secret hash.
func (s *Store) UpdateAdminSecret(ctx context.Context, tenant, adminUser, secretHash string) error {
	res, err := s.bun.NewUpdate().Model((*model.Admin)(nil)).
		Set("admin_secret = ?", secretHash).
		Set("updated = ?", model.Now()).
		Where("tenant = ?", tenant).
		Where("admin_user = ?", adminUser).
		Exec(ctx)
	if err != nil {
		return MapDBError(err)
	}
	return requireRows(res)
}

// DeleteAdmin removes an administrator.
func (s *Store) DeleteAdmin(ctx context.Context, tenant, adminUser string) error {
	res, err := s.bun.NewDelete().Model((*model.Admin)(nil)).
		Where("tenant = ?", tenant).
		Where("admin_user = ?", adminUser).
		Exec(ctx)
	if err != nil {
		return MapDBError(err)
	}
	return requireRows(res)
}

// --- Hosts ---

// CreateHost adds a host catalog entry.
func (s *Store) CreateHost(ctx context.Context, h *model.Host) error {
	now := model.Now()
	h.Created, h.Updated = now, now
	_, err := s.bun.NewInsert().Model(h).Exec(ctx)
	return MapDBError(err)
}

// GetHost fetches one host catalog row. A host may carry several address
// patterns, so the row is keyed by (tenant, host, addr).
func (s *Store) GetHost(ctx context.Context, tenant, host, addr string) (*model.Host, error) {
	var h model.Host
	err := s.bun.NewSelect().Model(&h).
		Where("tenant = ?", tenant).
		Where("host = ?", host).
		Where("addr = ?", addr).
		Scan(ctx)
	if err != nil {
		return nil, MapDBError(err)
	}
	return &h, nil
}

// ListHosts returns the host catalog of a tenant.
func (s *Store) ListHosts(ctx context.Context, tenant string) ([]model.Host, error) {
	var hs []model.Host
	err := s.bun.NewSelect().Model(&hs).
		Where("tenant = ?", tenant).
		Order("host ASC").
		Scan(ctx)
	return hs, MapDBError(err)
}

// UpdateHostAddr replaces one of a host's address patterns.
func (s *Store) UpdateHostAddr(ctx context.Context, tenant, host, oldAddr, newAddr string) error {
	res, err := s.bun.NewUpdate().Model((*model.Host)(nil)).
		Set("addr = ?", newAddr).
		Set("updated = ?", model.Now()).
		Where("tenant = ?", tenant).
		Where("host = ?", host).
		Where("addr = ?", oldAddr).
		Exec(ctx)
	if err != nil {
		return MapDBError(err)
	}
	return requireRows(res)
}

// DeleteHost removes one host catalog row by its full key.
func (s *Store) DeleteHost(ctx context.Context, tenant, host, addr string) error {
	res, err := s.bun.NewDelete().Model((*model.Host)(nil)).
		Where("tenant = ?", tenant).
		Where("host = ?", host).
		Where("addr = ?", addr).
		Exec(ctx)
	if err != nil {
		return MapDBError(err)
	}
	return requireRows(res)
}

// --- Audit ---

// auditTables is the allowlist for ListAudit, keyed by base table name; the
// shadow table name is interpolated into SQL and must never come from a
// request unchecked.
var auditTables = map[string]bool{
	"tenants":      true,
	"clients":      true,
	"user_mfa":     true,
	"user_hosts":   true,
	"delegations":  true,
	"pubkeys":      true,
	"reservations": true,
	"admin":        true,
	"hosts":        true,
}

// ListAudit returns the audit rows of one table's shadow table, newest
// first. The table argument is the base table name, not the shadow name.
func (s *Store) ListAudit(ctx context.Context, table string, limit int) ([]model.AuditEntry, error) {
	if !auditTables[table] {
		return nil, fmt.Errorf("%w: no audit table for %q", ErrNotFound, table)
	}
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.sql.QueryContext(ctx,
		fmt.Sprintf("SELECT id, action, field, oldvalue, newvalue, changed FROM %s_audit ORDER BY id DESC LIMIT ?", table),
		limit)
	if err != nil {
		return nil, MapDBError(err)
	}
	defer func() { _ = rows.Close() }()

	var entries []model.AuditEntry
	for rows.Next() {
		var e model.AuditEntry
		if err := rows.Scan(&e.ID, &e.Action, &e.Field, &e.OldValue, &e.NewValue, &e.Changed); err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// requireRows converts a zero-row write into ErrNotFound.
func requireRows(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}
