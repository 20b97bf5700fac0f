// Copyright (c) 2026 TMS Team
// TMS - Trust Manager System
// This source code is licensed under the MIT license found in the LICENSE file.

// Policy graph queries: clients, user MFA roots, user-host bindings,
// delegations, and pending client approvals.

package db

import (
	"context"

	"github.com/trustmgr/tms/internal/model"
)

// --- Clients ---

// CreateClient registers a client application. ClientSecret must already be
// the SHA-256 hex hash of the secret.
func (s *Store) CreateClient(ctx context.Context, c *model.Client) error {
	now := model.Now()
	c.Created, c.Updated = now, now
	_, err := s.bun.NewInsert().Model(c).Exec(ctx)
	return MapDBError(err)
}

// GetClient fetches a client by tenant and client id.
func (s *Store) GetClient(ctx context.Context, tenant, clientID string) (*model.Client, error) {
	var c model.Client
	err := s.bun.NewSelect().Model(&c).
		Where("tenant = ?", tenant).
		Where("client_id = ?", clientID).
		Scan(ctx)
	if err != nil {
		return nil, MapDBError(err)
	}
	return &c, nil
}

// GetClientByID fetches a client by client id alone, for request
// authentication where the tenant comes from the client row itself.
func (s *Store) GetClientByID(ctx context.Context, clientID string) (*model.Client, error) {
	var c model.Client
	err := s.bun.NewSelect().Model(&c).
		Where("client_id = ?", clientID).
		Order("id ASC").
		Limit(1).
		Scan(ctx)
	if err != nil {
		return nil, MapDBError(err)
	}
	return &c, nil
}

// ListClients returns the clients of a tenant.
func (s *Store) ListClients(ctx context.Context, tenant string) ([]model.Client, error) {
	var cs []model.Client
	err := s.bun.NewSelect().Model(&cs).
		Where("tenant = ?", tenant).
		Order("client_id ASC").
		Scan(ctx)
	return cs, MapDBError(err)
}

// UpdateClientSecret replaces a client's secret hash.
func (s *Store) UpdateClientSecret(ctx context.Context, tenant, clientID, secretHash string) error {
	res, err := s.bun.NewUpdate().Model((*model.Client)(nil)).
		Set("client_secret = ?", secretHash).
		Set("updated = ?", model.Now()).
		Where("tenant = ?", tenant).
		Where("client_id = ?", clientID).
		Exec(ctx)
	if err != nil {
		return MapDBError(err)
	}
	return requireRows(res)
}

// SetClientEnabled flips a client's enabled flag.
func (s *Store) SetClientEnabled(ctx context.Context, tenant, clientID string, enabled bool) error {
	res, err := s.bun.NewUpdate().Model((*model.Client)(nil)).
		Set("enabled = ?", enabled).
		Set("updated = ?", model.Now()).
		Where("tenant = ?", tenant).
		Where("client_id = ?", clientID).
		Exec(ctx)
	if err != nil {
		return MapDBError(err)
	}
	return requireRows(res)
}

// DeleteClient removes a client; its delegations and pubkeys cascade.
func (s *Store) DeleteClient(ctx context.Context, tenant, clientID string) error {
	res, err := s.bun.NewDelete().Model((*model.Client)(nil)).
		Where("tenant = ?", tenant).
		Where("client_id = ?", clientID).
		Exec(ctx)
	if err != nil {
		return MapDBError(err)
	}
	return requireRows(res)
}

// --- User MFA ---

// CreateUserMfa inserts a user identity row.
func (s *Store) CreateUserMfa(ctx context.Context, u *model.UserMfa) error {
	now := model.Now()
	u.Created, u.Updated = now, now
	_, err := s.bun.NewInsert().Model(u).Exec(ctx)
	return MapDBError(err)
}

// EnsureWildcardUser makes sure the '*' identity row exists for a tenant.
// Wildcard bindings and delegations hang off this row so the composite
// foreign keys stay satisfied.
func (s *Store) EnsureWildcardUser(ctx context.Context, tenant string) error {
	now := model.Now()
	_, err := s.bun.NewInsert().Model(&model.UserMfa{
		Tenant:    tenant,
		TmsUserID: model.Wildcard,
		ExpiresAt: model.NeverExpires,
		Enabled:   true,
		Created:   now,
		Updated:   now,
	}).Ignore().Exec(ctx)
	return MapDBError(err)
}

// GetUserMfa fetches a user identity row.
func (s *Store) GetUserMfa(ctx context.Context, tenant, tmsUserID string) (*model.UserMfa, error) {
	var u model.UserMfa
	err := s.bun.NewSelect().Model(&u).
		Where("tenant = ?", tenant).
		Where("tms_user_id = ?", tmsUserID).
		Scan(ctx)
	if err != nil {
		return nil, MapDBError(err)
	}
	return &u, nil
}

// ListUserMfa returns the user identities of a tenant.
func (s *Store) ListUserMfa(ctx context.Context, tenant string) ([]model.UserMfa, error) {
	var us []model.UserMfa
	err := s.bun.NewSelect().Model(&us).
		Where("tenant = ?", tenant).
		Order("tms_user_id ASC").
		Scan(ctx)
	return us, MapDBError(err)
}

// UpdateUserMfaExpiry moves a user's MFA freshness horizon.
func (s *Store) UpdateUserMfaExpiry(ctx context.Context, tenant, tmsUserID, expiresAt string) error {
	res, err := s.bun.NewUpdate().Model((*model.UserMfa)(nil)).
		Set("expires_at = ?", expiresAt).
		Set("updated = ?", model.Now()).
		Where("tenant = ?", tenant).
		Where("tms_user_id = ?", tmsUserID).
		Exec(ctx)
	if err != nil {
		return MapDBError(err)
	}
	return requireRows(res)
}

// SetUserMfaEnabled flips a user's enabled flag.
func (s *Store) SetUserMfaEnabled(ctx context.Context, tenant, tmsUserID string, enabled bool) error {
	res, err := s.bun.NewUpdate().Model((*model.UserMfa)(nil)).
		Set("enabled = ?", enabled).
		Set("updated = ?", model.Now()).
		Where("tenant = ?", tenant).
		Where("tms_user_id = ?", tmsUserID).
		Exec(ctx)
	if err != nil {
		return MapDBError(err)
	}
	return requireRows(res)
}

// DeleteUserMfa removes a user; bindings, delegations and pubkeys cascade.
func (s *Store) DeleteUserMfa(ctx context.Context, tenant, tmsUserID string) error {
	res, err := s.bun.NewDelete().Model((*model.UserMfa)(nil)).
		Where("tenant = ?", tenant).
		Where("tms_user_id = ?", tmsUserID).
		Exec(ctx)
	if err != nil {
		return MapDBError(err)
	}
	return requireRows(res)
}

// --- User-host bindings ---

// CreateUserHost inserts a user-host binding.
func (s *Store) CreateUserHost(ctx context.Context, uh *model.UserHost) error {
	now := model.Now()
	uh.Created, uh.Updated = now, now
	_, err := s.bun.NewInsert().Model(uh).Exec(ctx)
	return MapDBError(err)
}

// GetUserHost fetches one exact binding.
func (s *Store) GetUserHost(ctx context.Context, tenant, tmsUserID, host, hostAccount string) (*model.UserHost, error) {
	var uh model.UserHost
	err := s.bun.NewSelect().Model(&uh).
		Where("tenant = ?", tenant).
		Where("tms_user_id = ?", tmsUserID).
		Where("host = ?", host).
		Where("host_account = ?", hostAccount).
		Scan(ctx)
	if err != nil {
		return nil, MapDBError(err)
	}
	return &uh, nil
}

// FindUserHostCandidates returns the bindings that could authorize
// tmsUserID logging in as hostAccount on host: the exact row plus any
// wildcard rows. Policy evaluation picks among them.
func (s *Store) FindUserHostCandidates(ctx context.Context, tenant, tmsUserID, host, hostAccount string) ([]model.UserHost, error) {
	var uhs []model.UserHost
	err := s.bun.NewSelect().Model(&uhs).
		Where("tenant = ?", tenant).
		Where("tms_user_id IN (?, ?)", tmsUserID, model.Wildcard).
		Where("host = ?", host).
		Where("host_account IN (?, ?)", hostAccount, model.Wildcard).
		Order("id ASC").
		Scan(ctx)
	return uhs, MapDBError(err)
}

// ListUserHosts returns the bindings of a tenant.
func (s *Store) ListUserHosts(ctx context.Context, tenant string) ([]model.UserHost, error) {
	var uhs []model.UserHost
	err := s.bun.NewSelect().Model(&uhs).
		Where("tenant = ?", tenant).
		Order("tms_user_id ASC", "host ASC", "host_account ASC").
		Scan(ctx)
	return uhs, MapDBError(err)
}

// UpdateUserHostExpiry moves a binding's expiration.
func (s *Store) UpdateUserHostExpiry(ctx context.Context, tenant, tmsUserID, host, hostAccount, expiresAt string) error {
	res, err := s.bun.NewUpdate().Model((*model.UserHost)(nil)).
		Set("expires_at = ?", expiresAt).
		Set("updated = ?", model.Now()).
		Where("tenant = ?", tenant).
		Where("tms_user_id = ?", tmsUserID).
		Where("host = ?", host).
		Where("host_account = ?", hostAccount).
		Exec(ctx)
	if err != nil {
		return MapDBError(err)
	}
	return requireRows(res)
}

// DeleteUserHost removes a binding.
func (s *Store) DeleteUserHost(ctx context.Context, tenant, tmsUserID, host, hostAccount string) error {
	res, err := s.bun.NewDelete().Model((*model.UserHost)(nil)).
		Where("tenant = ?", tenant).
		Where("tms_user_id = ?", tmsUserID).
		Where("host = ?", host).
		Where("host_account = ?", hostAccount).
		Exec(ctx)
	if err != nil {
		return MapDBError(err)
	}
	return requireRows(res)
}

// --- Delegations ---

// CreateDelegation authorizes a client to act for a user.
func (s *Store) CreateDelegation(ctx context.Context, d *model.Delegation) error {
	now := model.Now()
	d.Created, d.Updated = now, now
	_, err := s.bun.NewInsert().Model(d).Exec(ctx)
	return MapDBError(err)
}

// GetDelegation fetches one exact delegation.
func (s *Store) GetDelegation(ctx context.Context, tenant, clientID, clientUserID string) (*model.Delegation, error) {
	var d model.Delegation
	err := s.bun.NewSelect().Model(&d).
		Where("tenant = ?", tenant).
		Where("client_id = ?", clientID).
		Where("client_user_id = ?", clientUserID).
		Scan(ctx)
	if err != nil {
		return nil, MapDBError(err)
	}
	return &d, nil
}

// FindDelegationCandidates returns the delegations that could authorize a
// client acting for clientUserID: the exact row plus the wildcard row.
func (s *Store) FindDelegationCandidates(ctx context.Context, tenant, clientID, clientUserID string) ([]model.Delegation, error) {
	var ds []model.Delegation
	err := s.bun.NewSelect().Model(&ds).
		Where("tenant = ?", tenant).
		Where("client_id = ?", clientID).
		Where("client_user_id IN (?, ?)", clientUserID, model.Wildcard).
		Order("id ASC").
		Scan(ctx)
	return ds, MapDBError(err)
}

// ListDelegations returns the delegations of a tenant.
func (s *Store) ListDelegations(ctx context.Context, tenant string) ([]model.Delegation, error) {
	var ds []model.Delegation
	err := s.bun.NewSelect().Model(&ds).
		Where("tenant = ?", tenant).
		Order("client_id ASC", "client_user_id ASC").
		Scan(ctx)
	return ds, MapDBError(err)
}

// UpdateDelegationExpiry moves a delegation's expiration.
func (s *Store) UpdateDelegationExpiry(ctx context.Context, tenant, clientID, clientUserID, expiresAt string) error {
	res, err := s.bun.NewUpdate().Model((*model.Delegation)(nil)).
		Set("expires_at = ?", expiresAt).
		Set("updated = ?", model.Now()).
		Where("tenant = ?", tenant).
		Where("client_id = ?", clientID).
		Where("client_user_id = ?", clientUserID).
		Exec(ctx)
	if err != nil {
		return MapDBError(err)
	}
	return requireRows(res)
}

// DeleteDelegation removes a delegation.
func (s *Store) DeleteDelegation(ctx context.Context, tenant, clientID, clientUserID string) error {
	res, err := s.bun.NewDelete().Model((*model.Delegation)(nil)).
		Where("tenant = ?", tenant).
		Where("client_id = ?", clientID).
		Where("client_user_id = ?", clientUserID).
		Exec(ctx)
	if err != nil {
		return MapDBError(err)
	}
	return requireRows(res)
}
