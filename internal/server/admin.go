// Copyright (c) 2026 TMS Team
// TMS - Trust Manager System
// This source code is licensed under the MIT license found in the LICENSE file.

// Administrative CRUD over the policy graph. Every handler here runs behind
// adminAuth and is scoped to the admin's own tenant by the middleware.

package server

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"golang.org/x/crypto/bcrypt"

	"github.com/trustmgr/tms/internal/kernel"
	"github.com/trustmgr/tms/internal/model"
	"github.com/trustmgr/tms/internal/policy"
)

// normalizeExpiry defaults an absent expiry to the never sentinel and
// rejects values that are neither the sentinel nor a parseable timestamp.
func normalizeExpiry(expiresAt string) (string, error) {
	if expiresAt == "" || model.IsNever(expiresAt) {
		return model.NeverExpires, nil
	}
	if _, err := model.ParseTimestamp(expiresAt); err != nil {
		return "", err
	}
	return expiresAt, nil
}

// --- Tenants ---

func (s *Server) handleListTenants(c *gin.Context) {
	ts, err := s.store.ListTenants(c.Request.Context())
	if err != nil {
		writeStoreError(c, err)
		return
	}
	c.JSON(http.StatusOK, ts)
}

func (s *Server) handleCreateTenant(c *gin.Context) {
	var req struct {
		Tenant  string `json:"tenant"`
		Enabled *bool  `json:"enabled"`
	}
	if err := c.ShouldBindJSON(&req); err != nil || req.Tenant == "" {
		writeError(c, kernel.E(kernel.KindBadRequest, "tenant is required"))
		return
	}
	enabled := true
	if req.Enabled != nil {
		enabled = *req.Enabled
	}
	t := &model.Tenant{Tenant: req.Tenant, Enabled: enabled}
	if err := s.store.CreateTenant(c.Request.Context(), t); err != nil {
		writeStoreError(c, err)
		return
	}
	// Anchor row for wildcard bindings in the new tenant.
	if err := s.store.EnsureWildcardUser(c.Request.Context(), req.Tenant); err != nil {
		writeStoreError(c, err)
		return
	}
	c.JSON(http.StatusCreated, t)
}

func (s *Server) handleGetTenant(c *gin.Context) {
	t, err := s.store.GetTenant(c.Request.Context(), c.Param("tenant"))
	if err != nil {
		writeStoreError(c, err)
		return
	}
	c.JSON(http.StatusOK, t)
}

// handleUpdateTenant renames a tenant and/or flips its enabled flag. A
// rename cascades through every descendant table.
func (s *Server) handleUpdateTenant(c *gin.Context) {
	var req struct {
		Tenant  string `json:"tenant"`
		Enabled *bool  `json:"enabled"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, kernel.E(kernel.KindBadRequest, "malformed request body"))
		return
	}
	name := c.Param("tenant")
	ctx := c.Request.Context()
	if req.Tenant != "" && req.Tenant != name {
		if err := s.store.RenameTenant(ctx, name, req.Tenant); err != nil {
			writeStoreError(c, err)
			return
		}
		name = req.Tenant
	}
	if req.Enabled != nil {
		if err := s.store.SetTenantEnabled(ctx, name, *req.Enabled); err != nil {
			writeStoreError(c, err)
			return
		}
	}
	t, err := s.store.GetTenant(ctx, name)
	if err != nil {
		writeStoreError(c, err)
		return
	}
	c.JSON(http.StatusOK, t)
}

func (s *Server) handleDeleteTenant(c *gin.Context) {
	if err := s.store.DeleteTenantAndAnchor(c.Request.Context(), c.Param("tenant")); err != nil {
		writeStoreError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// --- Clients ---

func (s *Server) handleListClients(c *gin.Context) {
	cs, err := s.store.ListClients(c.Request.Context(), c.Param("tenant"))
	if err != nil {
		writeStoreError(c, err)
		return
	}
	c.JSON(http.StatusOK, cs)
}

func (s *Server) handleCreateClient(c *gin.Context) {
	var req struct {
		ClientID     string `json:"client_id"`
		ClientSecret string `json:"client_secret"`
		AppName      string `json:"app_name"`
		AppVersion   string `json:"app_version"`
	}
	if err := c.ShouldBindJSON(&req); err != nil || req.ClientID == "" || req.ClientSecret == "" {
		writeError(c, kernel.E(kernel.KindBadRequest, "client_id and client_secret are required"))
		return
	}
	cl := &model.Client{
		Tenant:       c.Param("tenant"),
		AppName:      req.AppName,
		AppVersion:   req.AppVersion,
		ClientID:     req.ClientID,
		ClientSecret: policy.HashClientSecret(req.ClientSecret),
		Enabled:      true,
	}
	if err := s.store.CreateClient(c.Request.Context(), cl); err != nil {
		writeStoreError(c, err)
		return
	}
	c.JSON(http.StatusCreated, cl)
}

func (s *Server) handleGetClient(c *gin.Context) {
	cl, err := s.store.GetClient(c.Request.Context(), c.Param("tenant"), c.Param("client_id"))
	if err != nil {
		writeStoreError(c, err)
		return
	}
	c.JSON(http.StatusOK, cl)
}

func (s *Server) handleUpdateClient(c *gin.Context) {
	var req struct {
		ClientSecret string `json:"client_secret"`
		Enabled      *bool  `json:"enabled"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, kernel.E(kernel.KindBadRequest, "malformed request body"))
		return
	}
	tenant, clientID := c.Param("tenant"), c.Param("client_id")
	ctx := c.Request.Context()
	if req.ClientSecret != "" {
		if err := s.store.UpdateClientSecret(ctx, tenant, clientID, policy.HashClientSecret(req.ClientSecret)); err != nil {
			writeStoreError(c, err)
			return
		}
	}
	if req.Enabled != nil {
		if err := s.store.SetClientEnabled(ctx, tenant, clientID, *req.Enabled); err != nil {
			writeStoreError(c, err)
			return
		}
	}
	cl, err := s.store.GetClient(ctx, tenant, clientID)
	if err != nil {
		writeStoreError(c, err)
		return
	}
	c.JSON(http.StatusOK, cl)
}

func (s *Server) handleDeleteClient(c *gin.Context) {
	if err := s.store.DeleteClient(c.Request.Context(), c.Param("tenant"), c.Param("client_id")); err != nil {
		writeStoreError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// --- User MFA ---

func (s *Server) handleListUserMfa(c *gin.Context) {
	us, err := s.store.ListUserMfa(c.Request.Context(), c.Param("tenant"))
	if err != nil {
		writeStoreError(c, err)
		return
	}
	c.JSON(http.StatusOK, us)
}

func (s *Server) handleCreateUserMfa(c *gin.Context) {
	var req struct {
		TmsUserID string `json:"tms_user_id"`
		ExpiresAt string `json:"expires_at"`
	}
	if err := c.ShouldBindJSON(&req); err != nil || req.TmsUserID == "" {
		writeError(c, kernel.E(kernel.KindBadRequest, "tms_user_id is required"))
		return
	}
	expiresAt, err := normalizeExpiry(req.ExpiresAt)
	if err != nil {
		writeError(c, kernel.E(kernel.KindBadRequest, "invalid expires_at"))
		return
	}
	u := &model.UserMfa{
		Tenant:    c.Param("tenant"),
		TmsUserID: req.TmsUserID,
		ExpiresAt: expiresAt,
		Enabled:   true,
	}
	if err := s.store.CreateUserMfa(c.Request.Context(), u); err != nil {
		writeStoreError(c, err)
		return
	}
	c.JSON(http.StatusCreated, u)
}

func (s *Server) handleGetUserMfa(c *gin.Context) {
	u, err := s.store.GetUserMfa(c.Request.Context(), c.Param("tenant"), c.Param("user"))
	if err != nil {
		writeStoreError(c, err)
		return
	}
	c.JSON(http.StatusOK, u)
}

func (s *Server) handleUpdateUserMfa(c *gin.Context) {
	var req struct {
		ExpiresAt string `json:"expires_at"`
		Enabled   *bool  `json:"enabled"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, kernel.E(kernel.KindBadRequest, "malformed request body"))
		return
	}
	tenant, user := c.Param("tenant"), c.Param("user")
	ctx := c.Request.Context()
	if req.ExpiresAt != "" {
		expiresAt, err := normalizeExpiry(req.ExpiresAt)
		if err != nil {
			writeError(c, kernel.E(kernel.KindBadRequest, "invalid expires_at"))
			return
		}
		if err := s.store.UpdateUserMfaExpiry(ctx, tenant, user, expiresAt); err != nil {
			writeStoreError(c, err)
			return
		}
	}
	if req.Enabled != nil {
		if err := s.store.SetUserMfaEnabled(ctx, tenant, user, *req.Enabled); err != nil {
			writeStoreError(c, err)
			return
		}
	}
	u, err := s.store.GetUserMfa(ctx, tenant, user)
	if err != nil {
		writeStoreError(c, err)
		return
	}
	c.JSON(http.StatusOK, u)
}

func (s *Server) handleDeleteUserMfa(c *gin.Context) {
	if err := s.store.DeleteUserMfa(c.Request.Context(), c.Param("tenant"), c.Param("user")); err != nil {
		writeStoreError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// --- User-host bindings ---

func (s *Server) handleListUserHosts(c *gin.Context) {
	uhs, err := s.store.ListUserHosts(c.Request.Context(), c.Param("tenant"))
	if err != nil {
		writeStoreError(c, err)
		return
	}
	c.JSON(http.StatusOK, uhs)
}

func (s *Server) handleCreateUserHost(c *gin.Context) {
	var req struct {
		TmsUserID   string `json:"tms_user_id"`
		Host        string `json:"host"`
		HostAccount string `json:"host_account"`
		ExpiresAt   string `json:"expires_at"`
	}
	if err := c.ShouldBindJSON(&req); err != nil || req.TmsUserID == "" || req.Host == "" || req.HostAccount == "" {
		writeError(c, kernel.E(kernel.KindBadRequest, "tms_user_id, host and host_account are required"))
		return
	}
	expiresAt, err := normalizeExpiry(req.ExpiresAt)
	if err != nil {
		writeError(c, kernel.E(kernel.KindBadRequest, "invalid expires_at"))
		return
	}
	tenant := c.Param("tenant")
	ctx := c.Request.Context()
	if req.TmsUserID == model.Wildcard {
		if err := s.store.EnsureWildcardUser(ctx, tenant); err != nil {
			writeStoreError(c, err)
			return
		}
	}
	uh := &model.UserHost{
		Tenant:      tenant,
		TmsUserID:   req.TmsUserID,
		Host:        req.Host,
		HostAccount: req.HostAccount,
		ExpiresAt:   expiresAt,
	}
	if err := s.store.CreateUserHost(ctx, uh); err != nil {
		writeStoreError(c, err)
		return
	}
	c.JSON(http.StatusCreated, uh)
}

func (s *Server) handleUpdateUserHost(c *gin.Context) {
	var req struct {
		TmsUserID   string `json:"tms_user_id"`
		Host        string `json:"host"`
		HostAccount string `json:"host_account"`
		ExpiresAt   string `json:"expires_at"`
	}
	if err := c.ShouldBindJSON(&req); err != nil || req.TmsUserID == "" || req.Host == "" || req.HostAccount == "" {
		writeError(c, kernel.E(kernel.KindBadRequest, "tms_user_id, host and host_account are required"))
		return
	}
	expiresAt, err := normalizeExpiry(req.ExpiresAt)
	if err != nil {
		writeError(c, kernel.E(kernel.KindBadRequest, "invalid expires_at"))
		return
	}
	if err := s.store.UpdateUserHostExpiry(c.Request.Context(), c.Param("tenant"), req.TmsUserID, req.Host, req.HostAccount, expiresAt); err != nil {
		writeStoreError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (s *Server) handleDeleteUserHost(c *gin.Context) {
	user, host, account := c.Query("tms_user_id"), c.Query("host"), c.Query("host_account")
	if user == "" || host == "" || account == "" {
		writeError(c, kernel.E(kernel.KindBadRequest, "tms_user_id, host and host_account query parameters are required"))
		return
	}
	if err := s.store.DeleteUserHost(c.Request.Context(), c.Param("tenant"), user, host, account); err != nil {
		writeStoreError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// --- Delegations ---

func (s *Server) handleListDelegations(c *gin.Context) {
	ds, err := s.store.ListDelegations(c.Request.Context(), c.Param("tenant"))
	if err != nil {
		writeStoreError(c, err)
		return
	}
	c.JSON(http.StatusOK, ds)
}

func (s *Server) handleCreateDelegation(c *gin.Context) {
	var req struct {
		ClientID     string `json:"client_id"`
		ClientUserID string `json:"client_user_id"`
		ExpiresAt    string `json:"expires_at"`
	}
	if err := c.ShouldBindJSON(&req); err != nil || req.ClientID == "" || req.ClientUserID == "" {
		writeError(c, kernel.E(kernel.KindBadRequest, "client_id and client_user_id are required"))
		return
	}
	expiresAt, err := normalizeExpiry(req.ExpiresAt)
	if err != nil {
		writeError(c, kernel.E(kernel.KindBadRequest, "invalid expires_at"))
		return
	}
	tenant := c.Param("tenant")
	ctx := c.Request.Context()
	if req.ClientUserID == model.Wildcard {
		if err := s.store.EnsureWildcardUser(ctx, tenant); err != nil {
			writeStoreError(c, err)
			return
		}
	}
	d := &model.Delegation{
		Tenant:       tenant,
		ClientID:     req.ClientID,
		ClientUserID: req.ClientUserID,
		ExpiresAt:    expiresAt,
	}
	if err := s.store.CreateDelegation(ctx, d); err != nil {
		writeStoreError(c, err)
		return
	}
	c.JSON(http.StatusCreated, d)
}

func (s *Server) handleUpdateDelegation(c *gin.Context) {
	var req struct {
		ClientID     string `json:"client_id"`
		ClientUserID string `json:"client_user_id"`
		ExpiresAt    string `json:"expires_at"`
	}
	if err := c.ShouldBindJSON(&req); err != nil || req.ClientID == "" || req.ClientUserID == "" {
		writeError(c, kernel.E(kernel.KindBadRequest, "client_id and client_user_id are required"))
		return
	}
	expiresAt, err := normalizeExpiry(req.ExpiresAt)
	if err != nil {
		writeError(c, kernel.E(kernel.KindBadRequest, "invalid expires_at"))
		return
	}
	if err := s.store.UpdateDelegationExpiry(c.Request.Context(), c.Param("tenant"), req.ClientID, req.ClientUserID, expiresAt); err != nil {
		writeStoreError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (s *Server) handleDeleteDelegation(c *gin.Context) {
	clientID, clientUserID := c.Query("client_id"), c.Query("client_user_id")
	if clientID == "" || clientUserID == "" {
		writeError(c, kernel.E(kernel.KindBadRequest, "client_id and client_user_id query parameters are required"))
		return
	}
	if err := s.store.DeleteDelegation(c.Request.Context(), c.Param("tenant"), clientID, clientUserID); err != nil {
		writeStoreError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// --- Pubkeys ---

func (s *Server) handleListPubkeys(c *gin.Context) {
	ps, err := s.store.ListPubkeys(c.Request.Context(), c.Param("tenant"))
	if err != nil {
		writeStoreError(c, err)
		return
	}
	c.JSON(http.StatusOK, ps)
}

// pubkeyKey extracts the (fingerprint, host) natural key from the query.
// Fingerprints carry base64 and do not survive as path segments.
func pubkeyKey(c *gin.Context) (string, string, bool) {
	fingerprint, host := c.Query("public_key_fingerprint"), c.Query("host")
	if fingerprint == "" || host == "" {
		writeError(c, kernel.E(kernel.KindBadRequest, "public_key_fingerprint and host query parameters are required"))
		return "", "", false
	}
	return fingerprint, host, true
}

func (s *Server) handleUpdatePubkey(c *gin.Context) {
	fingerprint, host, ok := pubkeyKey(c)
	if !ok {
		return
	}
	var req struct {
		ExpiresAt string `json:"expires_at"`
		MaxUses   *int   `json:"max_uses"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, kernel.E(kernel.KindBadRequest, "malformed request body"))
		return
	}
	ctx := c.Request.Context()
	if req.ExpiresAt != "" {
		expiresAt, err := normalizeExpiry(req.ExpiresAt)
		if err != nil {
			writeError(c, kernel.E(kernel.KindBadRequest, "invalid expires_at"))
			return
		}
		if err := s.store.UpdatePubkeyExpiry(ctx, fingerprint, host, expiresAt); err != nil {
			writeStoreError(c, err)
			return
		}
	}
	if req.MaxUses != nil {
		if *req.MaxUses < 0 {
			writeError(c, kernel.E(kernel.KindBadRequest, "max_uses must not be negative"))
			return
		}
		if err := s.store.UpdatePubkeyUses(ctx, fingerprint, host, *req.MaxUses); err != nil {
			writeStoreError(c, err)
			return
		}
	}
	c.Status(http.StatusNoContent)
}

func (s *Server) handleDeletePubkey(c *gin.Context) {
	fingerprint, host, ok := pubkeyKey(c)
	if !ok {
		return
	}
	if err := s.store.DeletePubkey(c.Request.Context(), fingerprint, host); err != nil {
		writeStoreError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// --- Reservations ---

func (s *Server) handleListReservations(c *gin.Context) {
	rs, err := s.store.ListReservations(c.Request.Context(), c.Param("tenant"))
	if err != nil {
		writeStoreError(c, err)
		return
	}
	c.JSON(http.StatusOK, rs)
}

func (s *Server) handleExtendReservation(c *gin.Context) {
	var req struct {
		ExpiresAt string `json:"expires_at"`
	}
	if err := c.ShouldBindJSON(&req); err != nil || req.ExpiresAt == "" {
		writeError(c, kernel.E(kernel.KindBadRequest, "expires_at is required"))
		return
	}
	expiresAt, err := normalizeExpiry(req.ExpiresAt)
	if err != nil {
		writeError(c, kernel.E(kernel.KindBadRequest, "invalid expires_at"))
		return
	}
	ctx := c.Request.Context()
	r, err := s.store.GetReservation(ctx, c.Param("resid"))
	if err != nil {
		writeStoreError(c, err)
		return
	}
	// A reservation never outlives its key.
	p, err := s.store.GetPubkeyByFingerprint(ctx, r.Fingerprint, r.Host)
	if err != nil {
		writeStoreError(c, err)
		return
	}
	if err := s.store.UpdateReservationExpiry(ctx, r.Resid, model.MinExpiry(expiresAt, p.ExpiresAt)); err != nil {
		writeStoreError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// handleDeleteRelatedReservations removes every reservation pinned to one
// credential, typically after revoking the key itself.
func (s *Server) handleDeleteRelatedReservations(c *gin.Context) {
	fingerprint, host, ok := pubkeyKey(c)
	if !ok {
		return
	}
	n, err := s.store.DeleteReservationsForPubkey(c.Request.Context(), fingerprint, host)
	if err != nil {
		writeStoreError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"deleted": n})
}

func (s *Server) handleDeleteReservation(c *gin.Context) {
	if err := s.store.DeleteReservation(c.Request.Context(), c.Param("resid")); err != nil {
		writeStoreError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// --- Admins ---

func (s *Server) handleListAdmins(c *gin.Context) {
	as, err := s.store.ListAdmins(c.Request.Context(), c.Param("tenant"))
	if err != nil {
		writeStoreError(c, err)
		return
	}
	c.JSON(http.StatusOK, as)
}

func (s *Server) handleCreateAdmin(c *gin.Context) {
	var req struct {
		AdminUser   string `json:"admin_user"`
		AdminSecret string `json:"admin_secret"`
		Privilege   string `json:"privilege"`
	}
	if err := c.ShouldBindJSON(&req); err != nil || req.AdminUser == "" || req.AdminSecret == "" {
		writeError(c, kernel.E(kernel.KindBadRequest, "admin_user and admin_secret are required"))
		return
	}
	if req.Privilege == "" {
		req.Privilege = model.PrivTenantAdmin
	}
	if err := model.ValidatePrivilege(req.Privilege); err != nil {
		writeError(c, kernel.E(kernel.KindBadRequest, "unknown privilege %q", req.Privilege))
		return
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(req.AdminSecret), bcrypt.DefaultCost)
	if err != nil {
		writeStoreError(c, err)
		return
	}
	a := &model.Admin{
		Tenant:      c.Param("tenant"),
		AdminUser:   req.AdminUser,
		AdminSecret: string(hash),
		Privilege:   req.Privilege,
	}
	if err := s.store.CreateAdmin(c.Request.Context(), a); err != nil {
		writeStoreError(c, err)
		return
	}
	c.JSON(http.StatusCreated, a)
}

func (s *Server) handleUpdateAdmin(c *gin.Context) {
	var req struct {
		AdminSecret string `json:"admin_secret"`
	}
	if err := c.ShouldBindJSON(&req); err != nil || req.AdminSecret == "" {
		writeError(c, kernel.E(kernel.KindBadRequest, "admin_secret is required"))
		return
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(req.AdminSecret), bcrypt.DefaultCost)
	if err != nil {
		writeStoreError(c, err)
		return
	}
	if err := s.store.UpdateAdminSecret(c.Request.Context(), c.Param("tenant"), c.Param("admin_user"), string(hash)); err != nil {
		writeStoreError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (s *Server) handleDeleteAdmin(c *gin.Context) {
	if err := s.store.DeleteAdmin(c.Request.Context(), c.Param("tenant"), c.Param("admin_user")); err != nil {
		writeStoreError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// --- Hosts ---

func (s *Server) handleListHosts(c *gin.Context) {
	hs, err := s.store.ListHosts(c.Request.Context(), c.Param("tenant"))
	if err != nil {
		writeStoreError(c, err)
		return
	}
	c.JSON(http.StatusOK, hs)
}

func (s *Server) handleCreateHost(c *gin.Context) {
	var req struct {
		Host string `json:"host"`
		Addr string `json:"addr"`
	}
	if err := c.ShouldBindJSON(&req); err != nil || req.Host == "" || req.Addr == "" {
		writeError(c, kernel.E(kernel.KindBadRequest, "host and addr are required"))
		return
	}
	if err := model.ValidateHostAddr(req.Addr); err != nil {
		writeError(c, kernel.E(kernel.KindBadRequest, "invalid addr: %v", err))
		return
	}
	h := &model.Host{Tenant: c.Param("tenant"), Host: req.Host, Addr: req.Addr}
	if err := s.store.CreateHost(c.Request.Context(), h); err != nil {
		writeStoreError(c, err)
		return
	}
	c.JSON(http.StatusCreated, h)
}

// A host may carry several address patterns, so update and delete address
// one row by the addr query parameter.
func (s *Server) handleUpdateHost(c *gin.Context) {
	oldAddr := c.Query("addr")
	if oldAddr == "" {
		writeError(c, kernel.E(kernel.KindBadRequest, "addr query parameter is required"))
		return
	}
	var req struct {
		Addr string `json:"addr"`
	}
	if err := c.ShouldBindJSON(&req); err != nil || req.Addr == "" {
		writeError(c, kernel.E(kernel.KindBadRequest, "addr is required"))
		return
	}
	if err := model.ValidateHostAddr(req.Addr); err != nil {
		writeError(c, kernel.E(kernel.KindBadRequest, "invalid addr: %v", err))
		return
	}
	if err := s.store.UpdateHostAddr(c.Request.Context(), c.Param("tenant"), c.Param("host"), oldAddr, req.Addr); err != nil {
		writeStoreError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (s *Server) handleDeleteHost(c *gin.Context) {
	addr := c.Query("addr")
	if addr == "" {
		writeError(c, kernel.E(kernel.KindBadRequest, "addr query parameter is required"))
		return
	}
	if err := s.store.DeleteHost(c.Request.Context(), c.Param("tenant"), c.Param("host"), addr); err != nil {
		writeStoreError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// --- Approvals ---

func (s *Server) handleListApprovals(c *gin.Context) {
	as, err := s.store.ListClientApprovals(c.Request.Context(), c.Param("tenant"))
	if err != nil {
		writeStoreError(c, err)
		return
	}
	c.JSON(http.StatusOK, as)
}

func (s *Server) handleResolveApproval(c *gin.Context) {
	var req struct {
		Status string `json:"status"`
	}
	if err := c.ShouldBindJSON(&req); err != nil || req.Status == "" {
		writeError(c, kernel.E(kernel.KindBadRequest, "status is required"))
		return
	}
	if err := s.store.ResolveClientApproval(c.Request.Context(), c.Param("tenant"), c.Param("client_id"), req.Status); err != nil {
		writeStoreError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// --- Audit ---

func (s *Server) handleListAudit(c *gin.Context) {
	limit := 100
	if v := c.Query("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			limit = n
		}
	}
	entries, err := s.store.ListAudit(c.Request.Context(), c.Param("table"), limit)
	if err != nil {
		writeStoreError(c, err)
		return
	}
	c.JSON(http.StatusOK, entries)
}
