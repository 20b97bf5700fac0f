// Copyright (c) 2026 TMS Team
// TMS - Trust Manager System
// This source code is licensed under the MIT license found in the LICENSE file.

// Package server exposes the TMS HTTP surface: the credential endpoints,
// the tenant-scoped administrative CRUD, the documentation page, and the
// metrics endpoint.
package server

import (
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/trustmgr/tms/internal/config"
	"github.com/trustmgr/tms/internal/db"
	"github.com/trustmgr/tms/internal/kernel"
	"github.com/trustmgr/tms/internal/logging"
	"github.com/trustmgr/tms/internal/policy"
)

// Client and admin authentication headers.
const (
	HeaderAdminID      = "X-TMS-ADMIN-ID"
	HeaderAdminSecret  = "X-TMS-ADMIN-SECRET"
	HeaderClientID     = "X-TMS-CLIENT-ID"
	HeaderClientSecret = "X-TMS-CLIENT-SECRET"
	HeaderRequestID    = "X-Request-Id"
)

// Server wires the kernel, store and configuration into a gin engine.
type Server struct {
	cfg    *config.Config
	store  *db.Store
	kernel *kernel.Kernel
	engine *gin.Engine
}

// New builds the server and registers every route.
func New(cfg *config.Config, store *db.Store) *Server {
	pe := &policy.Engine{
		EnableMVP:        cfg.EnableMVP,
		EnableTestTenant: cfg.EnableTestTenant,
	}
	s := &Server{
		cfg:    cfg,
		store:  store,
		kernel: kernel.New(store, pe),
	}

	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery(), requestID(), httpMetrics())

	r.GET("/", s.handleDocs)
	r.GET("/version", s.handleVersion)
	r.GET("/v1/tms/version", s.handleVersion)
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	creds := r.Group("/v1/tms/creds")
	{
		creds.POST("/sshkeys", s.handleMint)
		creds.POST("/publickey", s.handleResolve)
		creds.POST("/reservations", s.handleReserve)
	}

	// Client self-registration, governed by the new_clients option.
	r.POST("/v1/tms/register", s.handleRegisterClient)

	admin := r.Group("/v1/tms", s.adminAuth())
	{
		admin.GET("/tenants", s.handleListTenants)
		admin.POST("/tenants", s.handleCreateTenant)
		admin.GET("/tenants/:tenant", s.handleGetTenant)
		admin.PUT("/tenants/:tenant", s.handleUpdateTenant)
		admin.DELETE("/tenants/:tenant", s.handleDeleteTenant)

		t := admin.Group("/tenants/:tenant")

		t.GET("/clients", s.handleListClients)
		t.POST("/clients", s.handleCreateClient)
		t.GET("/clients/:client_id", s.handleGetClient)
		t.PUT("/clients/:client_id", s.handleUpdateClient)
		t.DELETE("/clients/:client_id", s.handleDeleteClient)

		t.GET("/user_mfa", s.handleListUserMfa)
		t.POST("/user_mfa", s.handleCreateUserMfa)
		t.GET("/user_mfa/:user", s.handleGetUserMfa)
		t.PUT("/user_mfa/:user", s.handleUpdateUserMfa)
		t.DELETE("/user_mfa/:user", s.handleDeleteUserMfa)

		t.GET("/user_hosts", s.handleListUserHosts)
		t.POST("/user_hosts", s.handleCreateUserHost)
		t.PUT("/user_hosts", s.handleUpdateUserHost)
		t.DELETE("/user_hosts", s.handleDeleteUserHost)

		t.GET("/delegations", s.handleListDelegations)
		t.POST("/delegations", s.handleCreateDelegation)
		t.PUT("/delegations", s.handleUpdateDelegation)
		t.DELETE("/delegations", s.handleDeleteDelegation)

		t.GET("/pubkeys", s.handleListPubkeys)
		t.PUT("/pubkeys", s.handleUpdatePubkey)
		t.DELETE("/pubkeys", s.handleDeletePubkey)

		t.GET("/reservations", s.handleListReservations)
		t.DELETE("/reservations", s.handleDeleteRelatedReservations)
		t.PUT("/reservations/:resid", s.handleExtendReservation)
		t.DELETE("/reservations/:resid", s.handleDeleteReservation)

		t.GET("/admin", s.handleListAdmins)
		t.POST("/admin", s.handleCreateAdmin)
		t.PUT("/admin/:admin_user", s.handleUpdateAdmin)
		t.DELETE("/admin/:admin_user", s.handleDeleteAdmin)

		t.GET("/hosts", s.handleListHosts)
		t.POST("/hosts", s.handleCreateHost)
		t.PUT("/hosts/:host", s.handleUpdateHost)
		t.DELETE("/hosts/:host", s.handleDeleteHost)

		t.GET("/approvals", s.handleListApprovals)
		t.POST("/approvals/:client_id", s.handleResolveApproval)

		t.GET("/audit/:table", s.handleListAudit)
	}

	s.engine = r
	return s
}

// Handler exposes the router, mostly for httptest.
func (s *Server) Handler() http.Handler { return s.engine }

// Run serves until the listener fails. TLS is selected by the configured
// address scheme.
func (s *Server) Run(dirs *config.Dirs) error {
	addr := fmt.Sprintf(":%d", s.cfg.HTTPPort)
	logging.Infof("server: %s listening on %s (tls=%t)", s.cfg.Title, addr, s.cfg.TLS())
	if s.cfg.TLS() {
		return s.engine.RunTLS(addr, dirs.CertFile(), dirs.KeyFile())
	}
	return s.engine.Run(addr)
}
