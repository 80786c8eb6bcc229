package handler

import (
	"context"
	"net/http"
	"strconv"
)

type contextKey string

const (
	tenantKey contextKey = "tenant_id"
	actorKey  contextKey = "actor_id"
)

// TenantContext lifts the tenant and actor ids resolved by the upstream
// session/tenancy collaborator into the request context. The core never
// resolves tenancy itself; requests without a tenant are rejected here.
func TenantContext(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		tenantID, err := strconv.Atoi(r.Header.Get("X-Tenant-ID"))
		if err != nil || tenantID <= 0 {
			http.Error(w, "missing or invalid tenant", http.StatusUnauthorized)
			return
		}
		actorID, _ := strconv.Atoi(r.Header.Get("X-Actor-ID"))

		ctx := context.WithValue(r.Context(), tenantKey, tenantID)
		ctx = context.WithValue(ctx, actorKey, actorID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func tenantFrom(ctx context.Context) int {
	id, _ := ctx.Value(tenantKey).(int)
	return id
}

func actorFrom(ctx context.Context) int {
	id, _ := ctx.Value(actorKey).(int)
	return id
}
