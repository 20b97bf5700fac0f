// Copyright (c) 2026 TMS Team
// TMS - Trust Manager System
// This source code is licensed under the MIT license found in the LICENSE file.

package server

import (
	"html/template"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/trustmgr/tms/internal/version"
)

var docsTemplate = template.Must(template.New("docs").Parse(`<!DOCTYPE html>
<html>
<head><title>{{.Title}}</title>
<style>
body { font-family: sans-serif; margin: 2em; max-width: 60em; }
code { background: #f0f0f0; padding: 0 0.3em; }
td { padding: 0.2em 0.8em 0.2em 0; vertical-align: top; }
</style>
</head>
<body>
<h1>{{.Title}}</h1>
<p>Trust Manager System, version {{.Version}}. All endpoints speak JSON.</p>

<h2>Credential endpoints</h2>
<table>
<tr><td><code>POST /v1/tms/creds/sshkeys</code></td>
<td>Mint a key pair. Body: <code>{tenant, client_id, client_secret, client_user_id, host, host_account, num_uses, ttl_minutes, key_type}</code>. The private key is returned once and never stored.</td></tr>
<tr><td><code>POST /v1/tms/creds/publickey</code></td>
<td>Host-side resolve. Body: <code>{user, user_uid, host, key_type, public_key_fingerprint}</code>. Returns <code>{public_key}</code> or 401.</td></tr>
<tr><td><code>POST /v1/tms/creds/reservations</code></td>
<td>Reserve one pending use. Body: <code>{tenant, client_id, client_user_id, host, public_key_fingerprint, ttl_minutes}</code>. Returns <code>{resid, expires_at}</code>.</td></tr>
<tr><td><code>POST /v1/tms/register</code></td>
<td>Client self-registration, governed by the <code>new_clients</code> option.</td></tr>
</table>

<h2>Administrative endpoints</h2>
<p>Authenticated by the <code>X-TMS-ADMIN-ID</code> / <code>X-TMS-ADMIN-SECRET</code> headers; an administrator reaches only their own tenant.</p>
<table>
<tr><td><code>/v1/tms/tenants</code></td><td>Tenant list and creation; <code>/v1/tms/tenants/:tenant</code> for get, rename or enable, delete.</td></tr>
<tr><td><code>/v1/tms/tenants/:tenant/clients</code></td><td>Client CRUD.</td></tr>
<tr><td><code>/v1/tms/tenants/:tenant/user_mfa</code></td><td>User identity CRUD; <code>expires_at</code> is the MFA freshness horizon.</td></tr>
<tr><td><code>/v1/tms/tenants/:tenant/user_hosts</code></td><td>User-to-host-account bindings.</td></tr>
<tr><td><code>/v1/tms/tenants/:tenant/delegations</code></td><td>Client-for-user delegations.</td></tr>
<tr><td><code>/v1/tms/tenants/:tenant/pubkeys</code></td><td>Minted public keys, addressed by <code>?public_key_fingerprint=&amp;host=</code>.</td></tr>
<tr><td><code>/v1/tms/tenants/:tenant/reservations</code></td><td>Pending-use reservations, addressed by <code>resid</code>.</td></tr>
<tr><td><code>/v1/tms/tenants/:tenant/admin</code></td><td>Administrator accounts.</td></tr>
<tr><td><code>/v1/tms/tenants/:tenant/hosts</code></td><td>Host catalog entries; a host may carry several address patterns, individual rows addressed by <code>?addr=</code>.</td></tr>
<tr><td><code>/v1/tms/tenants/:tenant/approvals</code></td><td>Pending client registrations when <code>new_clients = "on_approval"</code>.</td></tr>
<tr><td><code>/v1/tms/tenants/:tenant/audit/:table</code></td><td>Audit trails, for example <code>audit/pubkeys</code>.</td></tr>
</table>

<h2>Operational endpoints</h2>
<table>
<tr><td><code>GET /version</code></td><td>Build identity.</td></tr>
<tr><td><code>GET /metrics</code></td><td>Prometheus metrics.</td></tr>
</table>
</body>
</html>
`))

// handleDocs serves the live documentation page.
func (s *Server) handleDocs(c *gin.Context) {
	c.Status(http.StatusOK)
	c.Header("Content-Type", "text/html; charset=utf-8")
	_ = docsTemplate.Execute(c.Writer, gin.H{
		"Title":   s.cfg.Title,
		"Version": version.Version,
	})
}

// handleVersion reports the build identity.
func (s *Server) handleVersion(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"version": version.Version,
		"commit":  version.Commit,
		"date":    version.Date,
	})
}
