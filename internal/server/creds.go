// Copyright (c) 2026 TMS Team
// TMS - Trust Manager System
// This source code is licensed under the MIT license found in the LICENSE file.

package server

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/trustmgr/tms/internal/config"
	"github.com/trustmgr/tms/internal/db"
	"github.com/trustmgr/tms/internal/kernel"
	"github.com/trustmgr/tms/internal/logging"
	"github.com/trustmgr/tms/internal/model"
	"github.com/trustmgr/tms/internal/policy"
)

var credOps = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "tms_credential_operations_total",
	Help: "Credential kernel operations by name and outcome.",
}, []string{"op", "outcome"})

// handleMint mints a key pair. The private key appears in this response and
// nowhere else.
func (s *Server) handleMint(c *gin.Context) {
	var req kernel.MintRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		credOps.WithLabelValues("mint", "bad_request").Inc()
		writeError(c, kernel.E(kernel.KindBadRequest, "malformed request body"))
		return
	}
	resp, err := s.kernel.Mint(c.Request.Context(), &req)
	if err != nil {
		credOps.WithLabelValues("mint", "denied").Inc()
		writeError(c, err)
		return
	}
	credOps.WithLabelValues("mint", "ok").Inc()
	c.JSON(http.StatusOK, resp)
}

// handleResolve answers the host-side fingerprint lookup.
func (s *Server) handleResolve(c *gin.Context) {
	var req kernel.ResolveRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		credOps.WithLabelValues("resolve", "denied").Inc()
		writeError(c, kernel.E(kernel.KindNotAuthorized, "not authorized"))
		return
	}
	resp, err := s.kernel.Resolve(c.Request.Context(), &req)
	if err != nil {
		credOps.WithLabelValues("resolve", "denied").Inc()
		writeError(c, err)
		return
	}
	credOps.WithLabelValues("resolve", "ok").Inc()
	c.JSON(http.StatusOK, resp)
}

// handleReserve claims a pending use of a key. The client secret may arrive
// in the body or in the client auth headers.
func (s *Server) handleReserve(c *gin.Context) {
	var req kernel.ReserveRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		credOps.WithLabelValues("reserve", "bad_request").Inc()
		writeError(c, kernel.E(kernel.KindBadRequest, "malformed request body"))
		return
	}
	if req.ClientSecret == "" {
		req.ClientSecret = c.GetHeader(HeaderClientSecret)
	}
	if req.ClientID == "" {
		req.ClientID = c.GetHeader(HeaderClientID)
	}
	resp, err := s.kernel.Reserve(c.Request.Context(), &req)
	if err != nil {
		credOps.WithLabelValues("reserve", "denied").Inc()
		writeError(c, err)
		return
	}
	credOps.WithLabelValues("reserve", "ok").Inc()
	c.JSON(http.StatusOK, resp)
}

type registerRequest struct {
	Tenant       string `json:"tenant"`
	ClientID     string `json:"client_id"`
	ClientSecret string `json:"client_secret"`
	AppName      string `json:"app_name"`
	AppVersion   string `json:"app_version"`
}

// handleRegisterClient implements client self-registration under the
// new_clients option: allow creates the client immediately, on_approval
// queues it for an administrator, disallow rejects.
func (s *Server) handleRegisterClient(c *gin.Context) {
	var req registerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, kernel.E(kernel.KindBadRequest, "malformed request body"))
		return
	}
	if req.Tenant == "" || req.ClientID == "" || req.ClientSecret == "" {
		writeError(c, kernel.E(kernel.KindBadRequest, "tenant, client_id and client_secret are required"))
		return
	}
	if req.Tenant == policy.TestTenant && !s.cfg.EnableTestTenant {
		writeError(c, kernel.E(kernel.KindNotFound, "unknown tenant %q", req.Tenant))
		return
	}

	ctx := c.Request.Context()
	switch s.cfg.NewClients {
	case config.NewClientsDisallow:
		writeError(c, kernel.E(kernel.KindNotAuthorized, "client registration is disabled"))
	case config.NewClientsOnApproval:
		err := s.store.CreateClientApproval(ctx, &model.ClientApproval{
			Tenant:       req.Tenant,
			AppName:      req.AppName,
			AppVersion:   req.AppVersion,
			ClientID:     req.ClientID,
			ClientSecret: policy.HashClientSecret(req.ClientSecret),
		})
		if err != nil {
			writeStoreError(c, err)
			return
		}
		c.JSON(http.StatusAccepted, gin.H{"status": model.ApprovalPending})
	default: // allow
		err := s.store.CreateClient(ctx, &model.Client{
			Tenant:       req.Tenant,
			AppName:      req.AppName,
			AppVersion:   req.AppVersion,
			ClientID:     req.ClientID,
			ClientSecret: policy.HashClientSecret(req.ClientSecret),
			Enabled:      true,
		})
		if err != nil {
			writeStoreError(c, err)
			return
		}
		c.JSON(http.StatusCreated, gin.H{"tenant": req.Tenant, "client_id": req.ClientID})
	}
}

// writeError maps a kernel error to its HTTP status. Internal failures hide
// detail behind the correlation id.
func writeError(c *gin.Context, err error) {
	kind := kernel.KindOf(err)
	status := http.StatusBadRequest
	switch kind {
	case kernel.KindAuth, kernel.KindNotAuthorized:
		status = http.StatusUnauthorized
	case kernel.KindInternal:
		status = http.StatusInternalServerError
	}
	if kind == kernel.KindInternal {
		logging.Errorf("server: internal error (request %s): %v", c.GetString("request_id"), err)
	}
	c.JSON(status, gin.H{
		"error":      kernel.Message(err),
		"kind":       string(kind),
		"request_id": c.GetString("request_id"),
	})
}

// writeStoreError maps raw store errors on the administrative surface.
func writeStoreError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, db.ErrNotFound):
		writeError(c, kernel.Wrap(kernel.KindNotFound, err, "record not found"))
	case errors.Is(err, db.ErrDuplicate):
		writeError(c, kernel.Wrap(kernel.KindConflict, err, "record already exists"))
	case errors.Is(err, db.ErrForeignKey):
		writeError(c, kernel.Wrap(kernel.KindNotFound, err, "referenced record not found"))
	case errors.Is(err, db.ErrCheck):
		writeError(c, kernel.Wrap(kernel.KindBadRequest, err, "constraint violation"))
	default:
		writeError(c, kernel.Wrap(kernel.KindInternal, err, "internal error"))
	}
}
