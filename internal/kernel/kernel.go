// Copyright (c) 2026 TMS Team
// TMS - Trust Manager System
// This source code is licensed under the MIT license found in the LICENSE file.

// Package kernel implements the credential operations: mint, resolve, and
// reserve. Every operation runs in a single database transaction; policy
// evaluation, key material and row writes commit or roll back together.
package kernel

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/uptrace/bun"

	"github.com/trustmgr/tms/internal/db"
	"github.com/trustmgr/tms/internal/keygen"
	"github.com/trustmgr/tms/internal/logging"
	"github.com/trustmgr/tms/internal/model"
	"github.com/trustmgr/tms/internal/policy"
)

// Kernel ties the policy engine to the store.
type Kernel struct {
	store  *db.Store
	engine *policy.Engine
	// nowFn is swapped by tests to pin the clock.
	nowFn func() time.Time
}

// New builds a kernel over a store and policy engine.
func New(store *db.Store, engine *policy.Engine) *Kernel {
	return &Kernel{store: store, engine: engine, nowFn: time.Now}
}

// MintRequest is the wire body of a mint call.
type MintRequest struct {
	Tenant       string `json:"tenant"`
	ClientID     string `json:"client_id"`
	ClientSecret string `json:"client_secret"`
	ClientUserID string `json:"client_user_id"`
	Host         string `json:"host"`
	HostAccount  string `json:"host_account"`
	NumUses      int    `json:"num_uses"`
	TTLMinutes   int    `json:"ttl_minutes"`
	KeyType      string `json:"key_type"`
}

// MintResponse carries the private key exactly once; it is never stored.
type MintResponse struct {
	PrivateKey        string `json:"private_key"`
	PublicKey         string `json:"public_key"`
	Fingerprint       string `json:"public_key_fingerprint"`
	KeyType           string `json:"key_type"`
	KeyBits           int    `json:"key_bits"`
	MaxUses           int    `json:"max_uses"`
	RemainingUses     int    `json:"remaining_uses"`
	InitialTTLMinutes int    `json:"initial_ttl_minutes"`
	ExpiresAt         string `json:"expires_at"`
}

// ResolveRequest is the wire body of a host-side resolve call.
type ResolveRequest struct {
	User        string `json:"user"`
	UserUID     string `json:"user_uid"`
	Host        string `json:"host"`
	KeyType     string `json:"key_type"`
	Fingerprint string `json:"public_key_fingerprint"`
}

// ResolveResponse returns the stored public key text.
type ResolveResponse struct {
	PublicKey string `json:"public_key"`
}

// ReserveRequest is the wire body of a reservation call. ClientSecret may
// arrive in the body or through the client auth headers; the server fills
// the field either way. Resid is optional; a fresh one is assigned when
// absent.
type ReserveRequest struct {
	Tenant       string `json:"tenant"`
	ClientID     string `json:"client_id"`
	ClientSecret string `json:"client_secret"`
	ClientUserID string `json:"client_user_id"`
	Host         string `json:"host"`
	Fingerprint  string `json:"public_key_fingerprint"`
	TTLMinutes   int    `json:"ttl_minutes"`
	Resid        string `json:"resid,omitempty"`
}

// ReserveResponse identifies the reservation and its deadline.
type ReserveResponse struct {
	Resid     string `json:"resid"`
	ExpiresAt string `json:"expires_at"`
}

// Mint authorizes the request against the policy graph, generates a key
// pair, and stores the public half. The fingerprint collision retry exists
// because (fingerprint, host) is unique; a collision means the RNG produced
// a duplicate key, so a second generation is the only sane recovery.
func (k *Kernel) Mint(ctx context.Context, req *MintRequest) (*MintResponse, error) {
	if req.Tenant == "" || req.ClientID == "" || req.ClientUserID == "" || req.Host == "" || req.HostAccount == "" {
		return nil, E(KindBadRequest, "tenant, client_id, client_user_id, host and host_account are required")
	}
	if req.NumUses < 0 || req.TTLMinutes < 0 {
		return nil, E(KindBadRequest, "num_uses and ttl_minutes must not be negative")
	}
	if _, err := keygen.NormalizeType(req.KeyType); err != nil {
		return nil, Wrap(KindBadKeyType, err, "unrecognized key_type %q", req.KeyType)
	}

	// MVP-minted keys have unlimited lifetime and uses.
	numUses, ttl := req.NumUses, req.TTLMinutes
	if k.engine.EnableMVP {
		numUses, ttl = 0, 0
	}
	now := k.nowFn()
	expiresAt := model.ExpiryFromTTL(now, ttl)

	var resp *MintResponse
	attempt := func() error {
		pair, err := keygen.Generate(req.KeyType)
		if err != nil {
			return Wrap(KindInternal, err, "key generation failed")
		}
		txErr := k.store.RunInTx(ctx, func(ctx context.Context, tx bun.Tx) error {
			view := k.store.WithTx(tx)
			if err := k.engine.AuthorizeMint(ctx, view, &policy.MintRequest{
				Tenant:       req.Tenant,
				ClientID:     req.ClientID,
				ClientSecret: req.ClientSecret,
				ClientUserID: req.ClientUserID,
				Host:         req.Host,
				HostAccount:  req.HostAccount,
			}, now); err != nil {
				return err
			}
			return view.CreatePubkey(ctx, &model.Pubkey{
				Tenant:            req.Tenant,
				ClientID:          req.ClientID,
				ClientUserID:      req.ClientUserID,
				Host:              req.Host,
				HostAccount:       req.HostAccount,
				Fingerprint:       pair.Fingerprint,
				PublicKey:         pair.PublicKey,
				KeyType:           pair.KeyType,
				KeyBits:           pair.KeyBits,
				MaxUses:           numUses,
				RemainingUses:     numUses,
				InitialTTLMinutes: ttl,
				ExpiresAt:         expiresAt,
			})
		})
		if txErr != nil {
			return txErr
		}
		resp = &MintResponse{
			PrivateKey:        pair.PrivateKey,
			PublicKey:         pair.PublicKey,
			Fingerprint:       pair.Fingerprint,
			KeyType:           pair.KeyType,
			KeyBits:           pair.KeyBits,
			MaxUses:           numUses,
			RemainingUses:     numUses,
			InitialTTLMinutes: ttl,
			ExpiresAt:         expiresAt,
		}
		return nil
	}

	err := attempt()
	if errors.Is(err, db.ErrDuplicate) {
		logging.Warnf("kernel: fingerprint collision on mint for %s@%s, regenerating", req.HostAccount, req.Host)
		err = attempt()
		if errors.Is(err, db.ErrDuplicate) {
			return nil, Wrap(KindConflict, err, "fingerprint collision persisted across regeneration")
		}
	}
	if err != nil {
		return nil, classifyMintErr(err)
	}
	return resp, nil
}

// classifyMintErr maps policy denials and store errors to kernel kinds. The
// caller is authenticated, so mint failures may be specific.
func classifyMintErr(err error) error {
	var ke *Error
	if errors.As(err, &ke) {
		return ke
	}
	var d *policy.Denial
	if errors.As(err, &d) {
		if d.Predicate == "client" {
			return Wrap(KindAuth, d, "client authentication failed")
		}
		if d.Predicate == "tenant" {
			return Wrap(KindNotFound, d, "%s", d.Reason)
		}
		return Wrap(KindPolicy, d, "%s", d.Reason)
	}
	// Deferred foreign keys fire at commit, so the violation can surface as
	// a raw driver error from the transaction itself.
	switch mapped := db.MapDBError(err); {
	case errors.Is(mapped, db.ErrDuplicate):
		return Wrap(KindConflict, err, "duplicate record")
	case errors.Is(mapped, db.ErrNotFound):
		return Wrap(KindNotFound, err, "record not found")
	case errors.Is(mapped, db.ErrForeignKey):
		return Wrap(KindNotFound, err, "referenced record not found")
	}
	return Wrap(KindInternal, err, "mint failed")
}

// Resolve answers the host-side lookup and spends one use. Every failure
// collapses to NotAuthorized so callers cannot probe whether a fingerprint
// exists; the precise denial is only logged.
func (k *Kernel) Resolve(ctx context.Context, req *ResolveRequest) (*ResolveResponse, error) {
	notAuthorized := E(KindNotAuthorized, "not authorized")
	if req.User == "" || req.Host == "" || req.Fingerprint == "" {
		return nil, notAuthorized
	}
	now := k.nowFn()

	var pub string
	err := k.store.RunInTx(ctx, func(ctx context.Context, tx bun.Tx) error {
		view := k.store.WithTx(tx)
		grant, err := k.engine.AuthorizeResolve(ctx, view, &policy.ResolveRequest{
			User:        req.User,
			Host:        req.Host,
			Fingerprint: req.Fingerprint,
		}, now)
		if err != nil {
			return err
		}
		p := grant.Pubkey
		if p.MaxUses > 0 {
			ok, err := view.DecrementPubkeyUses(ctx, p.ID, p.RemainingUses)
			if err != nil {
				return err
			}
			if !ok {
				// A concurrent resolve spent the use we observed.
				return &policy.Denial{Predicate: "uses", Reason: "lost the use race"}
			}
		}
		if grant.Reservation != nil {
			if err := view.ConsumeReservation(ctx, grant.Reservation.ID); err != nil {
				return err
			}
		}
		pub = p.PublicKey
		return nil
	})
	if err != nil {
		var d *policy.Denial
		if errors.As(err, &d) {
			logging.Infof("kernel: resolve denied for %s on %s: %s", req.Fingerprint, req.Host, d.Reason)
			return nil, notAuthorized
		}
		logging.Errorf("kernel: resolve failed for %s on %s: %v", req.Fingerprint, req.Host, err)
		return nil, notAuthorized
	}
	return &ResolveResponse{PublicKey: pub}, nil
}

// Reserve claims a pending use of a minted key. The reservation never
// outlives the key: its deadline is capped at the key's expiry. Reserving
// the same tuple twice returns the existing reservation.
func (k *Kernel) Reserve(ctx context.Context, req *ReserveRequest) (*ReserveResponse, error) {
	if req.Tenant == "" || req.ClientID == "" || req.ClientUserID == "" || req.Host == "" || req.Fingerprint == "" {
		return nil, E(KindBadRequest, "tenant, client_id, client_user_id, host and public_key_fingerprint are required")
	}
	if req.TTLMinutes < 0 {
		return nil, E(KindBadRequest, "ttl_minutes must not be negative")
	}
	now := k.nowFn()

	var resp *ReserveResponse
	err := k.store.RunInTx(ctx, func(ctx context.Context, tx bun.Tx) error {
		view := k.store.WithTx(tx)
		if err := k.engine.AuthorizeReserve(ctx, view, req.Tenant, req.ClientID, req.ClientSecret); err != nil {
			return err
		}

		p, err := view.GetPubkeyByFingerprint(ctx, req.Fingerprint, req.Host)
		if err != nil {
			if errors.Is(err, db.ErrNotFound) {
				return E(KindNotFound, "no key %s on host %q", req.Fingerprint, req.Host)
			}
			return err
		}
		if p.Tenant != req.Tenant {
			return E(KindNotFound, "no key %s on host %q", req.Fingerprint, req.Host)
		}
		if model.IsExpired(p.ExpiresAt, now) {
			return E(KindExpired, "key %s expired at %s", req.Fingerprint, p.ExpiresAt)
		}

		resid := req.Resid
		if resid == "" {
			resid = uuid.NewString()
		}
		expiresAt := model.MinExpiry(model.ExpiryFromTTL(now, req.TTLMinutes), p.ExpiresAt)

		insErr := view.CreateReservation(ctx, &model.Reservation{
			Resid:        resid,
			Tenant:       req.Tenant,
			ClientID:     req.ClientID,
			ClientUserID: req.ClientUserID,
			Host:         req.Host,
			Fingerprint:  req.Fingerprint,
			ExpiresAt:    expiresAt,
		})
		if errors.Is(insErr, db.ErrDuplicate) {
			existing, err := view.FindReservation(ctx, req.Tenant, req.ClientID, req.ClientUserID, req.Host, req.Fingerprint)
			if errors.Is(err, db.ErrNotFound) {
				// The duplicate was the resid itself, held by another tuple.
				return E(KindConflict, "resid %q is already in use", resid)
			}
			if err != nil {
				return err
			}
			resp = &ReserveResponse{Resid: existing.Resid, ExpiresAt: existing.ExpiresAt}
			return nil
		}
		if insErr != nil {
			return insErr
		}
		resp = &ReserveResponse{Resid: resid, ExpiresAt: expiresAt}
		return nil
	})
	if err != nil {
		return nil, classifyReserveErr(err)
	}
	return resp, nil
}

func classifyReserveErr(err error) error {
	var ke *Error
	if errors.As(err, &ke) {
		return ke
	}
	var d *policy.Denial
	if errors.As(err, &d) {
		if d.Predicate == "client" {
			return Wrap(KindAuth, d, "client authentication failed")
		}
		return Wrap(KindPolicy, d, "%s", d.Reason)
	}
	// Deferred foreign keys fire at commit, so the violation can surface as
	// a raw driver error from the transaction itself.
	if errors.Is(db.MapDBError(err), db.ErrForeignKey) {
		return Wrap(KindNotFound, err, "referenced record not found")
	}
	return Wrap(KindInternal, err, "reserve failed")
}
