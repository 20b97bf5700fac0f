// Copyright (c) 2026 TMS Team
// TMS - Trust Manager System
// This source code is licensed under the MIT license found in the LICENSE file.

// Package policy evaluates the authorization graph for credential
// operations. The predicates are lifted into named evaluators that run on a
// transaction-bound store view, so a mint sees one consistent snapshot and
// MVP auto-provisioning is an explicit alternative arm rather than scattered
// conditionals.
package policy

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/trustmgr/tms/internal/db"
	"github.com/trustmgr/tms/internal/logging"
	"github.com/trustmgr/tms/internal/model"
)

// TestTenant is the tenant whose operations are gated behind the
// enable_test_tenant option.
const TestTenant = "test"

// Denial is a failed predicate: which one, and why. It satisfies error so
// evaluators can return it directly.
type Denial struct {
	Predicate string
	Reason    string
}

func (d *Denial) Error() string {
	return fmt.Sprintf("policy predicate %s failed: %s", d.Predicate, d.Reason)
}

func deny(predicate, format string, args ...interface{}) *Denial {
	return &Denial{Predicate: predicate, Reason: fmt.Sprintf(format, args...)}
}

// MintRequest is the normalized input to mint authorization.
type MintRequest struct {
	Tenant       string
	ClientID     string
	ClientSecret string
	ClientUserID string
	Host         string
	HostAccount  string
}

// ResolveRequest is the normalized input to resolve authorization. User is
// the login account presented by the target host.
type ResolveRequest struct {
	User        string
	Host        string
	Fingerprint string
}

// ResolveGrant is the positive outcome of resolve authorization: the pubkey
// row to spend and, when one matched, the reservation row to consume.
type ResolveGrant struct {
	Pubkey      *model.Pubkey
	Reservation *model.Reservation
}

// Engine evaluates the predicates against a store view. EnableMVP switches
// the auto-provisioning arm on; EnableTestTenant opens the "test" tenant.
type Engine struct {
	EnableMVP        bool
	EnableTestTenant bool
}

// AuthorizeMint runs the mint predicates in order. A nil return means every
// predicate held; a *Denial return names the one that failed. Any other
// error is an infrastructure failure. In MVP mode the MFA row, delegation
// and user-host binding are created on the fly where the predicates allow.
func (e *Engine) AuthorizeMint(ctx context.Context, s *db.Store, req *MintRequest, now time.Time) error {
	if err := e.checkTenant(ctx, s, req.Tenant); err != nil {
		return err
	}
	if err := checkClient(ctx, s, req.Tenant, req.ClientID, req.ClientSecret); err != nil {
		return err
	}
	if err := e.checkUserMfa(ctx, s, req, now); err != nil {
		return err
	}
	if err := e.checkDelegation(ctx, s, req, now); err != nil {
		return err
	}
	return e.checkUserHost(ctx, s, req, now)
}

// checkTenant is mint predicate 1: the tenant exists, is enabled, and the
// test tenant is only reachable when enabled by configuration.
func (e *Engine) checkTenant(ctx context.Context, s *db.Store, tenant string) error {
	if tenant == TestTenant && !e.EnableTestTenant {
		return deny("tenant", "tenant %q is not enabled on this server", tenant)
	}
	t, err := s.GetTenant(ctx, tenant)
	if err != nil {
		if errors.Is(err, db.ErrNotFound) {
			return deny("tenant", "unknown tenant %q", tenant)
		}
		return err
	}
	if !t.Enabled {
		return deny("tenant", "tenant %q is disabled", tenant)
	}
	return nil
}

// checkClient is mint predicate 2: the client exists, is enabled, and the
// presented secret matches the stored digest.
func checkClient(ctx context.Context, s *db.Store, tenant, clientID, clientSecret string) error {
	c, err := s.GetClient(ctx, tenant, clientID)
	if err != nil {
		if errors.Is(err, db.ErrNotFound) {
			return deny("client", "unknown client %q", clientID)
		}
		return err
	}
	if !c.Enabled {
		return deny("client", "client %q is disabled", clientID)
	}
	if !VerifyClientSecret(c.ClientSecret, clientSecret) {
		return deny("client", "client secret mismatch for %q", clientID)
	}
	return nil
}

// checkUserMfa is mint predicate 3. MVP creates a never-expiring MFA row
// when none exists.
func (e *Engine) checkUserMfa(ctx context.Context, s *db.Store, req *MintRequest, now time.Time) error {
	u, err := s.GetUserMfa(ctx, req.Tenant, req.ClientUserID)
	if errors.Is(err, db.ErrNotFound) {
		if !e.EnableMVP {
			return deny("user_mfa", "no MFA record for user %q", req.ClientUserID)
		}
		logging.Debugf("policy: mvp auto-creating MFA row for %s/%s", req.Tenant, req.ClientUserID)
		return s.CreateUserMfa(ctx, &model.UserMfa{
			Tenant:    req.Tenant,
			TmsUserID: req.ClientUserID,
			ExpiresAt: model.NeverExpires,
			Enabled:   true,
		})
	}
	if err != nil {
		return err
	}
	if !u.Enabled {
		return deny("user_mfa", "user %q is disabled", req.ClientUserID)
	}
	if model.IsExpired(u.ExpiresAt, now) {
		return deny("user_mfa", "MFA proof for user %q expired at %s", req.ClientUserID, u.ExpiresAt)
	}
	return nil
}

// checkDelegation is mint predicate 4: an unexpired delegation for the exact
// user or the wildcard. MVP creates the exact delegation when absent.
func (e *Engine) checkDelegation(ctx context.Context, s *db.Store, req *MintRequest, now time.Time) error {
	ds, err := s.FindDelegationCandidates(ctx, req.Tenant, req.ClientID, req.ClientUserID)
	if err != nil {
		return err
	}
	if best := pickDelegation(ds, req.ClientUserID, now); best != nil {
		return nil
	}
	if !e.EnableMVP {
		if len(ds) > 0 {
			return deny("delegation", "delegation for client %q and user %q has expired", req.ClientID, req.ClientUserID)
		}
		return deny("delegation", "client %q holds no delegation for user %q", req.ClientID, req.ClientUserID)
	}
	logging.Debugf("policy: mvp auto-creating delegation for %s/%s/%s", req.Tenant, req.ClientID, req.ClientUserID)
	err = s.CreateDelegation(ctx, &model.Delegation{
		Tenant:       req.Tenant,
		ClientID:     req.ClientID,
		ClientUserID: req.ClientUserID,
		ExpiresAt:    model.NeverExpires,
	})
	if errors.Is(err, db.ErrDuplicate) {
		// The exact row exists but is expired; MVP does not resurrect it.
		return deny("delegation", "delegation for client %q and user %q has expired", req.ClientID, req.ClientUserID)
	}
	return err
}

// pickDelegation prefers the exact row over the wildcard; either suffices.
func pickDelegation(ds []model.Delegation, clientUserID string, now time.Time) *model.Delegation {
	var wildcard *model.Delegation
	for i := range ds {
		d := &ds[i]
		if model.IsExpired(d.ExpiresAt, now) {
			continue
		}
		if d.ClientUserID == clientUserID {
			return d
		}
		if d.ClientUserID == model.Wildcard {
			wildcard = d
		}
	}
	return wildcard
}

// checkUserHost is mint predicate 5: an unexpired exact binding, or the
// tenant-wide wildcard binding ("*", host, "*"). MVP creates the exact
// binding when absent, but only under the identity-mirror assumption that
// the user name equals the host account.
func (e *Engine) checkUserHost(ctx context.Context, s *db.Store, req *MintRequest, now time.Time) error {
	uhs, err := s.FindUserHostCandidates(ctx, req.Tenant, req.ClientUserID, req.Host, req.HostAccount)
	if err != nil {
		return err
	}
	if best := pickUserHost(uhs, req.ClientUserID, req.HostAccount, now); best != nil {
		return nil
	}
	if !e.EnableMVP {
		return deny("user_host", "no binding allows %q to log in as %q on %q", req.ClientUserID, req.HostAccount, req.Host)
	}
	if req.ClientUserID != req.HostAccount {
		return deny("user_host", "mvp mode requires the user name to equal the host account; %q != %q", req.ClientUserID, req.HostAccount)
	}
	logging.Debugf("policy: mvp auto-creating user-host binding %s@%s for %s", req.HostAccount, req.Host, req.ClientUserID)
	err = s.CreateUserHost(ctx, &model.UserHost{
		Tenant:      req.Tenant,
		TmsUserID:   req.ClientUserID,
		Host:        req.Host,
		HostAccount: req.HostAccount,
		ExpiresAt:   model.NeverExpires,
	})
	if errors.Is(err, db.ErrDuplicate) {
		return deny("user_host", "binding for %q on %q has expired", req.ClientUserID, req.Host)
	}
	return err
}

// pickUserHost prefers the exact binding; the tenant-wide wildcard row
// ("*", host, "*") also suffices.
func pickUserHost(uhs []model.UserHost, clientUserID, hostAccount string, now time.Time) *model.UserHost {
	var wildcard *model.UserHost
	for i := range uhs {
		uh := &uhs[i]
		if model.IsExpired(uh.ExpiresAt, now) {
			continue
		}
		if uh.TmsUserID == clientUserID && uh.HostAccount == hostAccount {
			return uh
		}
		if uh.TmsUserID == model.Wildcard && uh.HostAccount == model.Wildcard {
			wildcard = uh
		}
	}
	return wildcard
}

// AuthorizeReserve checks the caller half of a reservation: tenant gating
// plus client authentication. The pubkey checks live in the kernel because
// the reservation is pinned to a concrete row.
func (e *Engine) AuthorizeReserve(ctx context.Context, s *db.Store, tenant, clientID, clientSecret string) error {
	if err := e.checkTenant(ctx, s, tenant); err != nil {
		return err
	}
	return checkClient(ctx, s, tenant, clientID, clientSecret)
}

// AuthorizeResolve runs the resolve predicates. It returns the grant to
// execute, or a *Denial. Callers collapse every denial to a uniform
// negative answer; the predicate detail is for logging only.
func (e *Engine) AuthorizeResolve(ctx context.Context, s *db.Store, req *ResolveRequest, now time.Time) (*ResolveGrant, error) {
	p, err := s.GetPubkeyByFingerprint(ctx, req.Fingerprint, req.Host)
	if err != nil {
		if errors.Is(err, db.ErrNotFound) {
			return nil, deny("pubkey", "no key %s on host %q", req.Fingerprint, req.Host)
		}
		return nil, err
	}

	// Tenant gating applies to every entry point; the tenant comes from the
	// stored row since hosts do not present one.
	if err := e.checkTenant(ctx, s, p.Tenant); err != nil {
		return nil, err
	}
	if model.IsExpired(p.ExpiresAt, now) {
		return nil, deny("expiry", "key %s expired at %s", req.Fingerprint, p.ExpiresAt)
	}
	if p.MaxUses > 0 && p.RemainingUses <= 0 {
		return nil, deny("uses", "key %s is exhausted", req.Fingerprint)
	}
	if p.HostAccount != req.User {
		return nil, deny("host_account", "key %s is bound to account %q, not %q", req.Fingerprint, p.HostAccount, req.User)
	}

	rs, err := s.FindReservationForResolve(ctx, p.Tenant, p.ClientUserID, p.Host, p.Fingerprint)
	if err != nil {
		return nil, err
	}
	grant := &ResolveGrant{Pubkey: p}
	if len(rs) > 0 {
		for i := range rs {
			if !model.IsExpired(rs[i].ExpiresAt, now) {
				grant.Reservation = &rs[i]
				break
			}
		}
		if grant.Reservation == nil {
			return nil, deny("reservation", "every reservation for key %s has expired", req.Fingerprint)
		}
	}
	return grant, nil
}
