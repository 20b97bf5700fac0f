// Copyright (c) 2026 TMS Team
// TMS - Trust Manager System
// This source code is licensed under the MIT license found in the LICENSE file.

package server

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"golang.org/x/crypto/bcrypt"

	"github.com/trustmgr/tms/internal/logging"
	"github.com/trustmgr/tms/internal/model"
)

const ctxAdminTenant = "admin_tenant"

var (
	httpRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tms_http_requests_total",
		Help: "HTTP requests by route, method and status.",
	}, []string{"route", "method", "status"})

	httpDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "tms_http_request_duration_seconds",
		Help:    "HTTP request latency by route.",
		Buckets: prometheus.DefBuckets,
	}, []string{"route"})
)

// requestID tags every request with a correlation id, echoed in the
// response and attached to error payloads.
func requestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader(HeaderRequestID)
		if id == "" {
			id = uuid.NewString()
		}
		c.Set("request_id", id)
		c.Header(HeaderRequestID, id)
		c.Next()
	}
}

// httpMetrics records request counts and latency per route template.
func httpMetrics() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		httpRequests.WithLabelValues(route, c.Request.Method, strconv.Itoa(c.Writer.Status())).Inc()
		httpDuration.WithLabelValues(route).Observe(time.Since(start).Seconds())
	}
}

// adminAuth authenticates the administrative surface from the admin headers
// and scopes the caller to their tenant. Admin user names are only unique
// within a tenant, so tenant-scoped routes resolve the caller by
// (tenant, admin_user); the by-user lookup serves only the unscoped tenant
// collection routes. Admin secrets are bcrypt hashes; comparison cost is
// accepted because the surface is low-volume.
func (s *Server) adminAuth() gin.HandlerFunc {
	return func(c *gin.Context) {
		adminID := c.GetHeader(HeaderAdminID)
		adminSecret := c.GetHeader(HeaderAdminSecret)
		if adminID == "" || adminSecret == "" {
			abortUnauthorized(c, "admin credentials required")
			return
		}
		var a *model.Admin
		var err error
		if tenant := c.Param("tenant"); tenant != "" {
			a, err = s.store.GetAdmin(c.Request.Context(), tenant, adminID)
		} else {
			a, err = s.store.GetAdminByUser(c.Request.Context(), adminID)
		}
		if err != nil {
			// Burn comparable time so unknown admin ids are not
			// distinguishable by latency.
			_ = bcrypt.CompareHashAndPassword([]byte("$2a$10$7EqJtq98hPqEX7fNZaFWoOhi5B0xPtt3pQ8mO2aOrhG1nDq1mRL2e"), []byte(adminSecret))
			abortUnauthorized(c, "admin authentication failed")
			return
		}
		if bcrypt.CompareHashAndPassword([]byte(a.AdminSecret), []byte(adminSecret)) != nil {
			abortUnauthorized(c, "admin authentication failed")
			return
		}
		// A tenant admin only reaches their own tenant's resources.
		if tenant := c.Param("tenant"); tenant != "" && tenant != a.Tenant {
			abortUnauthorized(c, "admin is not scoped to this tenant")
			return
		}
		c.Set(ctxAdminTenant, a.Tenant)
		c.Next()
	}
}

func abortUnauthorized(c *gin.Context, msg string) {
	logging.Warnf("server: %s (request %s)", msg, c.GetString("request_id"))
	c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
		"error":      msg,
		"request_id": c.GetString("request_id"),
	})
}
