// Copyright (c) 2026 TMS Team
// TMS - Trust Manager System
// This source code is licensed under the MIT license found in the LICENSE file.

package kernel

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/trustmgr/tms/internal/db"
	"github.com/trustmgr/tms/internal/model"
	"github.com/trustmgr/tms/internal/policy"
)

const testSecret = "s3cret"

func newTestKernel(t *testing.T, name string, engine *policy.Engine) (*Kernel, *db.Store) {
	t.Helper()
	s, err := db.Open(fmt.Sprintf("file:kernel_%s?mode=memory&cache=shared", name))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })

	ctx := context.Background()
	if err := s.CreateTenant(ctx, &model.Tenant{Tenant: "acme", Enabled: true}); err != nil {
		t.Fatal(err)
	}
	if err := s.CreateClient(ctx, &model.Client{
		Tenant: "acme", ClientID: "app1",
		ClientSecret: policy.HashClientSecret(testSecret), Enabled: true,
	}); err != nil {
		t.Fatal(err)
	}
	if err := s.CreateUserMfa(ctx, &model.UserMfa{
		Tenant: "acme", TmsUserID: "alice", ExpiresAt: model.NeverExpires, Enabled: true,
	}); err != nil {
		t.Fatal(err)
	}
	if err := s.CreateDelegation(ctx, &model.Delegation{
		Tenant: "acme", ClientID: "app1", ClientUserID: "alice", ExpiresAt: model.NeverExpires,
	}); err != nil {
		t.Fatal(err)
	}
	if err := s.CreateUserHost(ctx, &model.UserHost{
		Tenant: "acme", TmsUserID: "alice", Host: "web1", HostAccount: "deploy",
		ExpiresAt: model.NeverExpires,
	}); err != nil {
		t.Fatal(err)
	}
	return New(s, engine), s
}

func kernelMintReq() *MintRequest {
	return &MintRequest{
		Tenant:       "acme",
		ClientID:     "app1",
		ClientSecret: testSecret,
		ClientUserID: "alice",
		Host:         "web1",
		HostAccount:  "deploy",
	}
}

func TestMintDefaults(t *testing.T) {
	k, s := newTestKernel(t, "mint_defaults", &policy.Engine{})
	ctx := context.Background()

	resp, err := k.Mint(ctx, kernelMintReq())
	if err != nil {
		t.Fatalf("mint: %v", err)
	}
	if resp.KeyType != "ED25519" {
		t.Errorf("default key type = %q, want ED25519", resp.KeyType)
	}
	if resp.ExpiresAt != model.NeverExpires {
		t.Errorf("zero ttl should yield the never sentinel, got %q", resp.ExpiresAt)
	}
	if resp.MaxUses != 0 || resp.RemainingUses != 0 {
		t.Errorf("zero num_uses should be unlimited, got max=%d remaining=%d", resp.MaxUses, resp.RemainingUses)
	}
	if resp.PrivateKey == "" || !strings.Contains(resp.PrivateKey, "OPENSSH PRIVATE KEY") {
		t.Error("response must carry the private key in OpenSSH form")
	}

	// Only the public half is stored.
	p, err := s.GetPubkeyByFingerprint(ctx, resp.Fingerprint, "web1")
	if err != nil {
		t.Fatalf("stored pubkey: %v", err)
	}
	if p.PublicKey != resp.PublicKey {
		t.Error("stored public key differs from the minted one")
	}
	if p.HostAccount != "deploy" || p.Tenant != "acme" {
		t.Errorf("stored envelope wrong: %+v", p)
	}
}

func TestMintWithBudget(t *testing.T) {
	k, _ := newTestKernel(t, "mint_budget", &policy.Engine{})
	now := time.Date(2026, 4, 1, 9, 0, 0, 0, time.UTC)
	k.nowFn = func() time.Time { return now }

	req := kernelMintReq()
	req.NumUses = 3
	req.TTLMinutes = 15
	req.KeyType = "rsa"

	resp, err := k.Mint(context.Background(), req)
	if err != nil {
		t.Fatalf("mint: %v", err)
	}
	if resp.KeyType != "RSA" || resp.KeyBits != 4096 {
		t.Errorf("key = %s/%d, want RSA/4096", resp.KeyType, resp.KeyBits)
	}
	if resp.MaxUses != 3 || resp.RemainingUses != 3 {
		t.Errorf("uses = %d/%d, want 3/3", resp.RemainingUses, resp.MaxUses)
	}
	if want := "2026-04-01T09:15:00.000000Z"; resp.ExpiresAt != want {
		t.Errorf("expires_at = %q, want %q", resp.ExpiresAt, want)
	}
}

func TestMintValidation(t *testing.T) {
	k, _ := newTestKernel(t, "mint_validate", &policy.Engine{})
	ctx := context.Background()

	req := kernelMintReq()
	req.Host = ""
	if _, err := k.Mint(ctx, req); KindOf(err) != KindBadRequest {
		t.Errorf("missing host: kind = %v, want BadRequest", KindOf(err))
	}

	req = kernelMintReq()
	req.NumUses = -1
	if _, err := k.Mint(ctx, req); KindOf(err) != KindBadRequest {
		t.Errorf("negative num_uses: kind = %v, want BadRequest", KindOf(err))
	}

	req = kernelMintReq()
	req.KeyType = "dsa"
	if _, err := k.Mint(ctx, req); KindOf(err) != KindBadKeyType {
		t.Errorf("dsa: kind = %v, want BadKeyType", KindOf(err))
	}
}

func TestMintDenials(t *testing.T) {
	k, _ := newTestKernel(t, "mint_deny", &policy.Engine{})
	ctx := context.Background()

	req := kernelMintReq()
	req.ClientSecret = "wrong"
	if _, err := k.Mint(ctx, req); KindOf(err) != KindAuth {
		t.Errorf("bad secret: kind = %v, want Auth", KindOf(err))
	}

	req = kernelMintReq()
	req.Tenant = "ghost"
	if _, err := k.Mint(ctx, req); KindOf(err) != KindNotFound {
		t.Errorf("unknown tenant: kind = %v, want NotFound", KindOf(err))
	}

	req = kernelMintReq()
	req.ClientUserID = "mallory"
	if _, err := k.Mint(ctx, req); KindOf(err) != KindPolicy {
		t.Errorf("unknown user: kind = %v, want Policy", KindOf(err))
	}
}

func TestMintMVPOverridesBudget(t *testing.T) {
	k, _ := newTestKernel(t, "mint_mvp", &policy.Engine{EnableMVP: true})

	req := kernelMintReq()
	req.NumUses = 5
	req.TTLMinutes = 30
	resp, err := k.Mint(context.Background(), req)
	if err != nil {
		t.Fatalf("mint: %v", err)
	}
	if resp.MaxUses != 0 || resp.InitialTTLMinutes != 0 || resp.ExpiresAt != model.NeverExpires {
		t.Errorf("mvp mint must be unlimited, got %+v", resp)
	}
}

func TestResolveSpendsUses(t *testing.T) {
	k, _ := newTestKernel(t, "resolve_uses", &policy.Engine{})
	ctx := context.Background()

	req := kernelMintReq()
	req.NumUses = 2
	minted, err := k.Mint(ctx, req)
	if err != nil {
		t.Fatalf("mint: %v", err)
	}

	rr := &ResolveRequest{User: "deploy", Host: "web1", Fingerprint: minted.Fingerprint}
	for i := 0; i < 2; i++ {
		resp, err := k.Resolve(ctx, rr)
		if err != nil {
			t.Fatalf("resolve %d: %v", i+1, err)
		}
		if resp.PublicKey != minted.PublicKey {
			t.Fatalf("resolve %d returned the wrong key", i+1)
		}
	}
	if _, err := k.Resolve(ctx, rr); KindOf(err) != KindNotAuthorized {
		t.Fatalf("exhausted key: kind = %v, want NotAuthorized", KindOf(err))
	}
}

func TestResolveCollapsesFailures(t *testing.T) {
	k, _ := newTestKernel(t, "resolve_opaque", &policy.Engine{})
	ctx := context.Background()

	minted, err := k.Mint(ctx, kernelMintReq())
	if err != nil {
		t.Fatalf("mint: %v", err)
	}

	cases := []*ResolveRequest{
		{User: "deploy", Host: "web1", Fingerprint: "SHA256:unknown"},
		{User: "root", Host: "web1", Fingerprint: minted.Fingerprint},
		{User: "deploy", Host: "web9", Fingerprint: minted.Fingerprint},
		{User: "", Host: "web1", Fingerprint: minted.Fingerprint},
	}
	for i, rr := range cases {
		_, err := k.Resolve(ctx, rr)
		if KindOf(err) != KindNotAuthorized {
			t.Errorf("case %d: kind = %v, want NotAuthorized", i, KindOf(err))
			continue
		}
		if Message(err) != "not authorized" {
			t.Errorf("case %d: message %q leaks detail", i, Message(err))
		}
	}
}

func TestResolveExpiredKey(t *testing.T) {
	k, _ := newTestKernel(t, "resolve_expired", &policy.Engine{})
	ctx := context.Background()

	req := kernelMintReq()
	req.TTLMinutes = 10
	minted, err := k.Mint(ctx, req)
	if err != nil {
		t.Fatalf("mint: %v", err)
	}

	k.nowFn = func() time.Time { return time.Now().Add(11 * time.Minute) }
	_, err = k.Resolve(ctx, &ResolveRequest{User: "deploy", Host: "web1", Fingerprint: minted.Fingerprint})
	if KindOf(err) != KindNotAuthorized {
		t.Fatalf("expired key: kind = %v, want NotAuthorized", KindOf(err))
	}
}

func TestReserveAndConsume(t *testing.T) {
	k, s := newTestKernel(t, "reserve", &policy.Engine{})
	ctx := context.Background()

	minted, err := k.Mint(ctx, kernelMintReq())
	if err != nil {
		t.Fatalf("mint: %v", err)
	}

	res, err := k.Reserve(ctx, &ReserveRequest{
		Tenant: "acme", ClientID: "app1", ClientSecret: testSecret,
		ClientUserID: "alice", Host: "web1",
		Fingerprint: minted.Fingerprint, TTLMinutes: 60,
	})
	if err != nil {
		t.Fatalf("reserve: %v", err)
	}
	if res.Resid == "" {
		t.Fatal("reserve must assign a resid")
	}

	// Resolving the key consumes the reservation.
	if _, err := k.Resolve(ctx, &ResolveRequest{User: "deploy", Host: "web1", Fingerprint: minted.Fingerprint}); err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if _, err := s.GetReservation(ctx, res.Resid); !errors.Is(err, db.ErrNotFound) {
		t.Fatalf("reservation should be consumed, got %v", err)
	}
}

func TestReserveIdempotent(t *testing.T) {
	k, _ := newTestKernel(t, "reserve_idem", &policy.Engine{})
	ctx := context.Background()

	minted, err := k.Mint(ctx, kernelMintReq())
	if err != nil {
		t.Fatalf("mint: %v", err)
	}

	req := &ReserveRequest{
		Tenant: "acme", ClientID: "app1", ClientSecret: testSecret,
		ClientUserID: "alice", Host: "web1",
		Fingerprint: minted.Fingerprint, TTLMinutes: 60,
	}
	first, err := k.Reserve(ctx, req)
	if err != nil {
		t.Fatalf("first reserve: %v", err)
	}
	second, err := k.Reserve(ctx, req)
	if err != nil {
		t.Fatalf("second reserve: %v", err)
	}
	if first.Resid != second.Resid {
		t.Fatalf("resids differ: %q vs %q", first.Resid, second.Resid)
	}
}

func TestReserveResidTakenByAnotherTupleIsConflict(t *testing.T) {
	k, _ := newTestKernel(t, "reserve_resid", &policy.Engine{})
	ctx := context.Background()

	first, err := k.Mint(ctx, kernelMintReq())
	if err != nil {
		t.Fatalf("mint: %v", err)
	}
	second, err := k.Mint(ctx, kernelMintReq())
	if err != nil {
		t.Fatalf("second mint: %v", err)
	}

	if _, err := k.Reserve(ctx, &ReserveRequest{
		Tenant: "acme", ClientID: "app1", ClientSecret: testSecret,
		ClientUserID: "alice", Host: "web1",
		Fingerprint: first.Fingerprint, Resid: "res-shared",
	}); err != nil {
		t.Fatalf("first reserve: %v", err)
	}

	// The same resid against a different key is not the idempotent case.
	_, err = k.Reserve(ctx, &ReserveRequest{
		Tenant: "acme", ClientID: "app1", ClientSecret: testSecret,
		ClientUserID: "alice", Host: "web1",
		Fingerprint: second.Fingerprint, Resid: "res-shared",
	})
	if KindOf(err) != KindConflict {
		t.Fatalf("reused resid: kind = %v, want Conflict", KindOf(err))
	}
}

func TestReserveCapsAtKeyExpiry(t *testing.T) {
	k, _ := newTestKernel(t, "reserve_cap", &policy.Engine{})
	now := time.Date(2026, 4, 1, 9, 0, 0, 0, time.UTC)
	k.nowFn = func() time.Time { return now }
	ctx := context.Background()

	req := kernelMintReq()
	req.TTLMinutes = 10
	minted, err := k.Mint(ctx, req)
	if err != nil {
		t.Fatalf("mint: %v", err)
	}

	res, err := k.Reserve(ctx, &ReserveRequest{
		Tenant: "acme", ClientID: "app1", ClientSecret: testSecret,
		ClientUserID: "alice", Host: "web1",
		Fingerprint: minted.Fingerprint, TTLMinutes: 120,
	})
	if err != nil {
		t.Fatalf("reserve: %v", err)
	}
	if res.ExpiresAt != minted.ExpiresAt {
		t.Fatalf("reservation deadline %q should be capped at key expiry %q", res.ExpiresAt, minted.ExpiresAt)
	}
}

func TestReserveFailures(t *testing.T) {
	k, _ := newTestKernel(t, "reserve_fail", &policy.Engine{})
	ctx := context.Background()

	minted, err := k.Mint(ctx, kernelMintReq())
	if err != nil {
		t.Fatalf("mint: %v", err)
	}

	_, err = k.Reserve(ctx, &ReserveRequest{
		Tenant: "acme", ClientID: "app1", ClientSecret: "wrong",
		ClientUserID: "alice", Host: "web1", Fingerprint: minted.Fingerprint,
	})
	if KindOf(err) != KindAuth {
		t.Errorf("bad secret: kind = %v, want Auth", KindOf(err))
	}

	_, err = k.Reserve(ctx, &ReserveRequest{
		Tenant: "acme", ClientID: "app1", ClientSecret: testSecret,
		ClientUserID: "alice", Host: "web1", Fingerprint: "SHA256:unknown",
	})
	if KindOf(err) != KindNotFound {
		t.Errorf("unknown key: kind = %v, want NotFound", KindOf(err))
	}

	expiring := kernelMintReq()
	expiring.TTLMinutes = 5
	short, err := k.Mint(ctx, expiring)
	if err != nil {
		t.Fatalf("mint: %v", err)
	}
	k.nowFn = func() time.Time { return time.Now().Add(6 * time.Minute) }
	_, err = k.Reserve(ctx, &ReserveRequest{
		Tenant: "acme", ClientID: "app1", ClientSecret: testSecret,
		ClientUserID: "alice", Host: "web1", Fingerprint: short.Fingerprint,
	})
	if KindOf(err) != KindExpired {
		t.Errorf("expired key: kind = %v, want Expired", KindOf(err))
	}
}

func TestConcurrentResolvesNeverOverspend(t *testing.T) {
	k, s := newTestKernel(t, "resolve_race", &policy.Engine{})
	ctx := context.Background()

	req := kernelMintReq()
	req.NumUses = 3
	minted, err := k.Mint(ctx, req)
	if err != nil {
		t.Fatalf("mint: %v", err)
	}

	var granted int64
	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := k.Resolve(ctx, &ResolveRequest{User: "deploy", Host: "web1", Fingerprint: minted.Fingerprint}); err == nil {
				atomic.AddInt64(&granted, 1)
			}
		}()
	}
	wg.Wait()

	if granted != 3 {
		t.Fatalf("granted %d resolves, want exactly 3", granted)
	}
	p, err := s.GetPubkeyByFingerprint(ctx, minted.Fingerprint, "web1")
	if err != nil {
		t.Fatal(err)
	}
	if p.RemainingUses != 0 {
		t.Fatalf("remaining_uses = %d, want 0", p.RemainingUses)
	}
}
