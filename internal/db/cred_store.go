// Copyright (c) 2026 TMS Team
// TMS - Trust Manager System
// This source code is licensed under the MIT license found in the LICENSE file.

// Credential material queries: minted pubkeys, reservations, and the client
// approval queue.

package db

import (
	"context"

	"github.com/uptrace/bun"

	"github.com/trustmgr/tms/internal/model"
)

// --- Pubkeys ---

// CreatePubkey stores a freshly minted credential envelope.
func (s *Store) CreatePubkey(ctx context.Context, p *model.Pubkey) error {
	now := model.Now()
	p.Created, p.Updated = now, now
	_, err := s.bun.NewInsert().Model(p).Exec(ctx)
	return MapDBError(err)
}

// GetPubkeyByFingerprint fetches the credential keyed by its natural key,
// (fingerprint, host).
func (s *Store) GetPubkeyByFingerprint(ctx context.Context, fingerprint, host string) (*model.Pubkey, error) {
	var p model.Pubkey
	err := s.bun.NewSelect().Model(&p).
		Where("public_key_fingerprint = ?", fingerprint).
		Where("host = ?", host).
		Scan(ctx)
	if err != nil {
		return nil, MapDBError(err)
	}
	return &p, nil
}

// ListPubkeys returns the credentials of a tenant, newest first.
func (s *Store) ListPubkeys(ctx context.Context, tenant string) ([]model.Pubkey, error) {
	var ps []model.Pubkey
	err := s.bun.NewSelect().Model(&ps).
		Where("tenant = ?", tenant).
		Order("id DESC").
		Scan(ctx)
	return ps, MapDBError(err)
}

// DecrementPubkeyUses atomically spends one use: the update only applies when
// remaining_uses still holds the value the caller observed. It reports
// whether the swap happened; false means a concurrent resolve won the race
// and the caller must re-read.
func (s *Store) DecrementPubkeyUses(ctx context.Context, id, observed int) (bool, error) {
	res, err := s.bun.NewUpdate().Model((*model.Pubkey)(nil)).
		Set("remaining_uses = remaining_uses - 1").
		Set("updated = ?", model.Now()).
		Where("id = ?", id).
		Where("remaining_uses = ?", observed).
		Exec(ctx)
	if err != nil {
		return false, MapDBError(err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

// UpdatePubkeyUses replaces a credential's use budget and resets the
// remaining count to it. A budget of zero means unlimited.
func (s *Store) UpdatePubkeyUses(ctx context.Context, fingerprint, host string, maxUses int) error {
	res, err := s.bun.NewUpdate().Model((*model.Pubkey)(nil)).
		Set("max_uses = ?", maxUses).
		Set("remaining_uses = ?", maxUses).
		Set("updated = ?", model.Now()).
		Where("public_key_fingerprint = ?", fingerprint).
		Where("host = ?", host).
		Exec(ctx)
	if err != nil {
		return MapDBError(err)
	}
	return requireRows(res)
}

// UpdatePubkeyExpiry moves a credential's expiration.
func (s *Store) UpdatePubkeyExpiry(ctx context.Context, fingerprint, host, expiresAt string) error {
	res, err := s.bun.NewUpdate().Model((*model.Pubkey)(nil)).
		Set("expires_at = ?", expiresAt).
		Set("updated = ?", model.Now()).
		Where("public_key_fingerprint = ?", fingerprint).
		Where("host = ?", host).
		Exec(ctx)
	if err != nil {
		return MapDBError(err)
	}
	return requireRows(res)
}

// DeletePubkey removes a credential; its reservations cascade.
func (s *Store) DeletePubkey(ctx context.Context, fingerprint, host string) error {
	res, err := s.bun.NewDelete().Model((*model.Pubkey)(nil)).
		Where("public_key_fingerprint = ?", fingerprint).
		Where("host = ?", host).
		Exec(ctx)
	if err != nil {
		return MapDBError(err)
	}
	return requireRows(res)
}

// --- Reservations ---

// CreateReservation pre-announces one intended use of a credential.
func (s *Store) CreateReservation(ctx context.Context, r *model.Reservation) error {
	now := model.Now()
	r.Created, r.Updated = now, now
	_, err := s.bun.NewInsert().Model(r).Exec(ctx)
	return MapDBError(err)
}

// GetReservation fetches a reservation by its public id.
func (s *Store) GetReservation(ctx context.Context, resid string) (*model.Reservation, error) {
	var r model.Reservation
	err := s.bun.NewSelect().Model(&r).Where("resid = ?", resid).Scan(ctx)
	if err != nil {
		return nil, MapDBError(err)
	}
	return &r, nil
}

// FindReservation fetches the reservation matching the unique use tuple.
func (s *Store) FindReservation(ctx context.Context, tenant, clientID, clientUserID, host, fingerprint string) (*model.Reservation, error) {
	var r model.Reservation
	err := s.bun.NewSelect().Model(&r).
		Where("tenant = ?", tenant).
		Where("client_id = ?", clientID).
		Where("client_user_id = ?", clientUserID).
		Where("host = ?", host).
		Where("public_key_fingerprint = ?", fingerprint).
		Scan(ctx)
	if err != nil {
		return nil, MapDBError(err)
	}
	return &r, nil
}

// FindReservationForResolve returns the reservations pinned to a credential
// use as seen from the host side, where the client id is not in the request.
func (s *Store) FindReservationForResolve(ctx context.Context, tenant, clientUserID, host, fingerprint string) ([]model.Reservation, error) {
	var rs []model.Reservation
	err := s.bun.NewSelect().Model(&rs).
		Where("tenant = ?", tenant).
		Where("client_user_id = ?", clientUserID).
		Where("host = ?", host).
		Where("public_key_fingerprint = ?", fingerprint).
		Order("id ASC").
		Scan(ctx)
	return rs, MapDBError(err)
}

// ListReservations returns the reservations of a tenant.
func (s *Store) ListReservations(ctx context.Context, tenant string) ([]model.Reservation, error) {
	var rs []model.Reservation
	err := s.bun.NewSelect().Model(&rs).
		Where("tenant = ?", tenant).
		Order("id ASC").
		Scan(ctx)
	return rs, MapDBError(err)
}

// UpdateReservationExpiry moves a reservation's expiration.
func (s *Store) UpdateReservationExpiry(ctx context.Context, resid, expiresAt string) error {
	res, err := s.bun.NewUpdate().Model((*model.Reservation)(nil)).
		Set("expires_at = ?", expiresAt).
		Set("updated = ?", model.Now()).
		Where("resid = ?", resid).
		Exec(ctx)
	if err != nil {
		return MapDBError(err)
	}
	return requireRows(res)
}

// DeleteReservation removes a reservation by its public id.
func (s *Store) DeleteReservation(ctx context.Context, resid string) error {
	res, err := s.bun.NewDelete().Model((*model.Reservation)(nil)).
		Where("resid = ?", resid).
		Exec(ctx)
	if err != nil {
		return MapDBError(err)
	}
	return requireRows(res)
}

// DeleteReservationsForPubkey removes every reservation pinned to one
// credential, for example after that credential is revoked. Deleting zero
// rows is not an error.
func (s *Store) DeleteReservationsForPubkey(ctx context.Context, fingerprint, host string) (int64, error) {
	res, err := s.bun.NewDelete().Model((*model.Reservation)(nil)).
		Where("public_key_fingerprint = ?", fingerprint).
		Where("host = ?", host).
		Exec(ctx)
	if err != nil {
		return 0, MapDBError(err)
	}
	return res.RowsAffected()
}

// ConsumeReservation deletes a reservation by row id, as part of spending a
// credential use. Callers run it on a transaction-bound store view.
func (s *Store) ConsumeReservation(ctx context.Context, id int) error {
	res, err := s.bun.NewDelete().Model((*model.Reservation)(nil)).
		Where("id = ?", id).
		Exec(ctx)
	if err != nil {
		return MapDBError(err)
	}
	return requireRows(res)
}

// --- Client approvals ---

// CreateClientApproval queues a client registration for review.
func (s *Store) CreateClientApproval(ctx context.Context, a *model.ClientApproval) error {
	now := model.Now()
	a.Created, a.Updated = now, now
	a.Status = model.ApprovalPending
	_, err := s.bun.NewInsert().Model(a).Exec(ctx)
	return MapDBError(err)
}

// GetClientApproval fetches one queued registration.
func (s *Store) GetClientApproval(ctx context.Context, tenant, clientID string) (*model.ClientApproval, error) {
	var a model.ClientApproval
	err := s.bun.NewSelect().Model(&a).
		Where("tenant = ?", tenant).
		Where("client_id = ?", clientID).
		Scan(ctx)
	if err != nil {
		return nil, MapDBError(err)
	}
	return &a, nil
}

// ListClientApprovals returns the approval queue of a tenant.
func (s *Store) ListClientApprovals(ctx context.Context, tenant string) ([]model.ClientApproval, error) {
	var as []model.ClientApproval
	err := s.bun.NewSelect().Model(&as).
		Where("tenant = ?", tenant).
		Order("id ASC").
		Scan(ctx)
	return as, MapDBError(err)
}

// ResolveClientApproval marks a queued registration approved or denied; an
// approval also creates the client row, all in one transaction.
func (s *Store) ResolveClientApproval(ctx context.Context, tenant, clientID, status string) error {
	if status != model.ApprovalApproved && status != model.ApprovalDenied {
		return ErrCheck
	}
	return s.RunInTx(ctx, func(ctx context.Context, tx bun.Tx) error {
		var a model.ClientApproval
		err := tx.NewSelect().Model(&a).
			Where("tenant = ?", tenant).
			Where("client_id = ?", clientID).
			Where("status = ?", model.ApprovalPending).
			Scan(ctx)
		if err != nil {
			return MapDBError(err)
		}

		now := model.Now()
		if _, err := tx.NewUpdate().Model((*model.ClientApproval)(nil)).
			Set("status = ?", status).
			Set("updated = ?", now).
			Where("id = ?", a.ID).
			Exec(ctx); err != nil {
			return MapDBError(err)
		}

		if status == model.ApprovalApproved {
			if _, err := tx.NewInsert().Model(&model.Client{
				Tenant:       a.Tenant,
				AppName:      a.AppName,
				AppVersion:   a.AppVersion,
				ClientID:     a.ClientID,
				ClientSecret: a.ClientSecret,
				Enabled:      true,
				Created:      now,
				Updated:      now,
			}).Exec(ctx); err != nil {
				return MapDBError(err)
			}
		}
		return nil
	})
}
