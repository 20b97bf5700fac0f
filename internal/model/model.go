// Copyright (c) 2026 TMS Team
// TMS - Trust Manager System
// This source code is licensed under the MIT license found in the LICENSE file.

// Package model defines the entities stored by the TMS server. Every entity
// is scoped by a tenant and carries created/updated timestamps in UTC
// ISO-8601 with fractional seconds.
package model

import (
	"fmt"

	"github.com/uptrace/bun"
)

// Wildcard is the identifier that matches every user or host account in a
// tenant when it appears in a user-host binding or a delegation.
const Wildcard = "*"

// Tenant is the administrative namespace that owns everything else.
type Tenant struct {
	bun.BaseModel `bun:"table:tenants"`
	ID            int    `bun:"id,pk,autoincrement" json:"id"`
	Tenant        string `bun:"tenant" json:"tenant"`
	Enabled       bool   `bun:"enabled" json:"enabled"`
	Created       string `bun:"created" json:"created"`
	Updated       string `bun:"updated" json:"updated"`
}

// Client is a registered application within a tenant, authenticated by
// (client_id, client_secret). ClientSecret holds the SHA-256 hex hash of the
// secret, never the secret itself.
type Client struct {
	bun.BaseModel `bun:"table:clients"`
	ID            int    `bun:"id,pk,autoincrement" json:"id"`
	Tenant        string `bun:"tenant" json:"tenant"`
	AppName       string `bun:"app_name" json:"app_name"`
	AppVersion    string `bun:"app_version" json:"app_version"`
	ClientID      string `bun:"client_id" json:"client_id"`
	ClientSecret  string `bun:"client_secret" json:"-"`
	Enabled       bool   `bun:"enabled" json:"enabled"`
	Created       string `bun:"created" json:"created"`
	Updated       string `bun:"updated" json:"updated"`
}

// UserMfa is the root identity row for a TMS user. ExpiresAt is the instant
// after which the user's MFA proof is no longer fresh.
type UserMfa struct {
	bun.BaseModel `bun:"table:user_mfa"`
	ID            int    `bun:"id,pk,autoincrement" json:"id"`
	Tenant        string `bun:"tenant" json:"tenant"`
	TmsUserID     string `bun:"tms_user_id" json:"tms_user_id"`
	ExpiresAt     string `bun:"expires_at" json:"expires_at"`
	Enabled       bool   `bun:"enabled" json:"enabled"`
	Created       string `bun:"created" json:"created"`
	Updated       string `bun:"updated" json:"updated"`
}

// UserHost asserts that a TMS user logs in as HostAccount on Host. A row
// with TmsUserID = "*" and HostAccount = "*" lets every user in the tenant
// log in with their own name on that host.
type UserHost struct {
	bun.BaseModel `bun:"table:user_hosts"`
	ID            int    `bun:"id,pk,autoincrement" json:"id"`
	Tenant        string `bun:"tenant" json:"tenant"`
	TmsUserID     string `bun:"tms_user_id" json:"tms_user_id"`
	Host          string `bun:"host" json:"host"`
	HostAccount   string `bun:"host_account" json:"host_account"`
	ExpiresAt     string `bun:"expires_at" json:"expires_at"`
	Created       string `bun:"created" json:"created"`
	Updated       string `bun:"updated" json:"updated"`
}

// Delegation authorizes a client to act for a user. ClientUserID = "*"
// delegates on behalf of every user in the tenant.
type Delegation struct {
	bun.BaseModel `bun:"table:delegations"`
	ID            int    `bun:"id,pk,autoincrement" json:"id"`
	Tenant        string `bun:"tenant" json:"tenant"`
	ClientID      string `bun:"client_id" json:"client_id"`
	ClientUserID  string `bun:"client_user_id" json:"client_user_id"`
	ExpiresAt     string `bun:"expires_at" json:"expires_at"`
	Created       string `bun:"created" json:"created"`
	Updated       string `bun:"updated" json:"updated"`
}

// Pubkey is the materialized credential: the public half of a minted key
// pair plus its policy envelope. (Fingerprint, Host) is unique across the
// database so target hosts can index by it.
type Pubkey struct {
	bun.BaseModel     `bun:"table:pubkeys"`
	ID                int    `bun:"id,pk,autoincrement" json:"id"`
	Tenant            string `bun:"tenant" json:"tenant"`
	ClientID          string `bun:"client_id" json:"client_id"`
	ClientUserID      string `bun:"client_user_id" json:"client_user_id"`
	Host              string `bun:"host" json:"host"`
	HostAccount       string `bun:"host_account" json:"host_account"`
	Fingerprint       string `bun:"public_key_fingerprint" json:"public_key_fingerprint"`
	PublicKey         string `bun:"public_key" json:"public_key"`
	KeyType           string `bun:"key_type" json:"key_type"`
	KeyBits           int    `bun:"key_bits" json:"key_bits"`
	MaxUses           int    `bun:"max_uses" json:"max_uses"`
	RemainingUses     int    `bun:"remaining_uses" json:"remaining_uses"`
	InitialTTLMinutes int    `bun:"initial_ttl_minutes" json:"initial_ttl_minutes"`
	ExpiresAt         string `bun:"expires_at" json:"expires_at"`
	Created           string `bun:"created" json:"created"`
	Updated           string `bun:"updated" json:"updated"`
}

// Reservation pre-announces one intended use of a pubkey; a host-side
// resolve consumes it.
type Reservation struct {
	bun.BaseModel `bun:"table:reservations"`
	ID            int    `bun:"id,pk,autoincrement" json:"id"`
	Resid         string `bun:"resid" json:"resid"`
	Tenant        string `bun:"tenant" json:"tenant"`
	ClientID      string `bun:"client_id" json:"client_id"`
	ClientUserID  string `bun:"client_user_id" json:"client_user_id"`
	Host          string `bun:"host" json:"host"`
	Fingerprint   string `bun:"public_key_fingerprint" json:"public_key_fingerprint"`
	ExpiresAt     string `bun:"expires_at" json:"expires_at"`
	Created       string `bun:"created" json:"created"`
	Updated       string `bun:"updated" json:"updated"`
}

// Admin is a per-tenant administrator. AdminSecret holds a bcrypt hash.
type Admin struct {
	bun.BaseModel `bun:"table:admin"`
	ID            int    `bun:"id,pk,autoincrement" json:"id"`
	Tenant        string `bun:"tenant" json:"tenant"`
	AdminUser     string `bun:"admin_user" json:"admin_user"`
	AdminSecret   string `bun:"admin_secret" json:"-"`
	Privilege     string `bun:"privilege" json:"privilege"`
	Created       string `bun:"created" json:"created"`
	Updated       string `bun:"updated" json:"updated"`
}

// Host is an optional catalog entry mapping a host name to an address
// pattern (dotted quad, trailing-* wildcard, or [a, b] range).
type Host struct {
	bun.BaseModel `bun:"table:hosts"`
	ID            int    `bun:"id,pk,autoincrement" json:"id"`
	Tenant        string `bun:"tenant" json:"tenant"`
	Host          string `bun:"host" json:"host"`
	Addr          string `bun:"addr" json:"addr"`
	Created       string `bun:"created" json:"created"`
	Updated       string `bun:"updated" json:"updated"`
}

// Client approval states for deployments running new_clients = "on_approval".
const (
	ApprovalPending  = "pending"
	ApprovalApproved = "approved"
	ApprovalDenied   = "denied"
)

// ClientApproval is a client registration waiting for an administrator
// decision. Approving one moves it into clients.
type ClientApproval struct {
	bun.BaseModel `bun:"table:client_approvals"`
	ID            int    `bun:"id,pk,autoincrement" json:"id"`
	Tenant        string `bun:"tenant" json:"tenant"`
	AppName       string `bun:"app_name" json:"app_name"`
	AppVersion    string `bun:"app_version" json:"app_version"`
	ClientID      string `bun:"client_id" json:"client_id"`
	ClientSecret  string `bun:"client_secret" json:"-"`
	Status        string `bun:"status" json:"status"`
	Created       string `bun:"created" json:"created"`
	Updated       string `bun:"updated" json:"updated"`
}

// AuditEntry is one row of a *_audit shadow table. Inserts and deletes carry
// the full row as a JSON array under field "row"; updates carry the changed
// column with old and new scalar values.
type AuditEntry struct {
	ID       int    `json:"id"`
	Action   string `json:"action"`
	Field    string `json:"field"`
	OldValue string `json:"oldvalue"`
	NewValue string `json:"newvalue"`
	Changed  string `json:"changed"`
}

// String returns the account@host form of a binding.
func (u UserHost) String() string {
	return fmt.Sprintf("%s@%s", u.HostAccount, u.Host)
}
