package http

import (
	"net/http"

	"github.com/GriffinCanCode/corsbroker/internal/shared/types"
	"github.com/gin-gonic/gin"
)

// StatusOf maps an error kind to an HTTP status.
func StatusOf(err error) int {
	switch types.KindOf(err) {
	case types.KindInvalidRequest, types.KindUnsupportedBody:
		return http.StatusBadRequest
	case types.KindNotFound:
		return http.StatusNotFound
	case types.KindNeedPermission:
		return http.StatusForbidden
	case types.KindUpstreamNetwork:
		return http.StatusBadGateway
	case types.KindTimeout:
		return http.StatusGatewayTimeout
	case types.KindRuleSyncDegraded, types.KindClosed:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func abort(c *gin.Context, err error) {
	c.AbortWithStatusJSON(StatusOf(err), gin.H{"error": types.ToWire(err)})
}
