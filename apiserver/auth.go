// Copyright 2025 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package apiserver

import (
	"context"
	"net/http"
	"strings"

	"github.com/go-glare/glare/core/identity"
)

type contextKey string

const identityKey contextKey = "identity"

// callerFrom extracts the request identity stored by the auth
// middleware. Handlers run behind the middleware, so the value is
// always present.
func callerFrom(ctx context.Context) identity.Identity {
	who, _ := ctx.Value(identityKey).(identity.Identity)
	return who
}

// authenticate resolves the caller from the trusted proxy headers. A
// confirmed identity carries user, tenant and roles; anything else is
// anonymous, rejected unless anonymous reads are enabled.
func (s *Server) authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		who := identity.Anonymous()
		if req.Header.Get("X-Identity-Status") == "Confirmed" {
			tenant := req.Header.Get("X-Tenant-Id")
			if tenant == "" {
				tenant = req.Header.Get("X-Project-Id")
			}
			who = identity.Identity{
				UserID:   req.Header.Get("X-User-Id"),
				TenantID: tenant,
				Roles:    splitRoles(req.Header.Get("X-Roles")),
			}
		} else if !s.allowAnonymous {
			sendStatusAndJSON(w, http.StatusUnauthorized, errorResponse{
				Error: errorBody{Message: "authentication required", Code: http.StatusUnauthorized},
			})
			return
		}
		ctx := context.WithValue(req.Context(), identityKey, who)
		next.ServeHTTP(w, req.WithContext(ctx))
	})
}

func splitRoles(raw string) []string {
	var roles []string
	for _, role := range strings.Split(raw, ",") {
		if role = strings.TrimSpace(role); role != "" {
			roles = append(roles, role)
		}
	}
	return roles
}
