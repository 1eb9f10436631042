/*
middleware.go - Caller identity middleware

PURPOSE:
  Extracts the already-authenticated caller from trusted headers and makes
  it available to handlers through the request context. This engine sits
  behind an authenticating gateway; it never verifies credentials itself,
  it only reads the identity the gateway attached.

HEADERS:
  X-User-Id:    Integer user identifier
  X-User-Role:  APPLICANT | REVIEWER | ADMINISTRATOR

MISSING OR MALFORMED HEADERS:
  The caller defaults to an anonymous APPLICANT with id 0. Capability
  checks downstream reject anything the role does not grant, so a missing
  identity degrades to least privilege rather than an error at the edge.

SEE ALSO:
  - subsidy/types.go: Caller, Role, Capability
*/
package api

import (
	"context"
	"net/http"
	"strconv"

	"github.com/agrofondo/subsidy-engine/subsidy"
)

type contextKey string

const callerKey contextKey = "caller"

// CallerFromHeaders reads the trusted identity headers into a subsidy.Caller
// and stores it on the request context.
func CallerFromHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		caller := subsidy.Caller{Role: subsidy.RoleApplicant}

		if v := r.Header.Get("X-User-Id"); v != "" {
			if id, err := strconv.ParseInt(v, 10, 64); err == nil {
				caller.ID = subsidy.UserID(id)
			}
		}
		if v := r.Header.Get("X-User-Role"); v != "" {
			role := subsidy.Role(v)
			switch role {
			case subsidy.RoleApplicant, subsidy.RoleReviewer, subsidy.RoleAdministrator:
				caller.Role = role
			}
		}

		ctx := context.WithValue(r.Context(), callerKey, caller)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// callerFrom returns the caller attached by CallerFromHeaders. Requests that
// bypass the middleware (tests hitting handlers directly) get the anonymous
// applicant.
func callerFrom(ctx context.Context) subsidy.Caller {
	if c, ok := ctx.Value(callerKey).(subsidy.Caller); ok {
		return c
	}
	return subsidy.Caller{Role: subsidy.RoleApplicant}
}
