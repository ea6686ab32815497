package middleware

import (
	"net/http"

	"github.com/restio/restio/pkg/httputil"
	"github.com/restio/restio/pkg/util"
	"github.com/zitadel/oidc/v3/pkg/oidc"
)

// Role extracts a caller role from the verified OIDC token's claims using a
// dotted claim path, e.g. "realm_access.roles.0". The empty string means no
// verified caller or no such claim.
func Role(r *http.Request, roleClaimPath string) string {
	user, ok := r.Context().Value(httputil.OIDCUserCtxKey).(*oidc.IntrospectionResponse)
	if !ok || user == nil {
		return ""
	}
	claim, err := util.Jq(user.Claims, roleClaimPath)
	if err != nil {
		return ""
	}
	role, _ := claim.(string)
	return role
}
