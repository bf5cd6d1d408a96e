package api

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/compliance-ops/regfabric/pkg/collab"
	"github.com/compliance-ops/regfabric/pkg/notify"
	"github.com/compliance-ops/regfabric/pkg/regmonitor"
	"github.com/compliance-ops/regfabric/pkg/rules"
	"github.com/compliance-ops/regfabric/pkg/scan"
)

// statusFor maps service errors to HTTP statuses. Unknown errors are 500s.
func statusFor(err error) int {
	switch {
	case errors.Is(err, rules.ErrRuleNotFound),
		errors.Is(err, rules.ErrIncidentNotFound),
		errors.Is(err, notify.ErrChannelNotFound),
		errors.Is(err, regmonitor.ErrSubscriptionNotFound),
		errors.Is(err, scan.ErrJobNotFound),
		errors.Is(err, collab.ErrSessionNotFound),
		errors.Is(err, collab.ErrUserNotFound),
		errors.Is(err, collab.ErrRequestNotFound):
		return http.StatusNotFound

	case errors.Is(err, rules.ErrOpenIncidents),
		errors.Is(err, rules.ErrBadTransition),
		errors.Is(err, notify.ErrAlreadyDelivered),
		errors.Is(err, collab.ErrUserConflict),
		errors.Is(err, collab.ErrRequestExpired):
		return http.StatusConflict

	case errors.Is(err, collab.ErrNotAuthorized):
		return http.StatusForbidden

	case errors.Is(err, collab.ErrSessionLimit),
		errors.Is(err, collab.ErrMessageLimit),
		errors.Is(err, collab.ErrRequestLimit):
		return http.StatusTooManyRequests

	case errors.Is(err, collab.ErrBadRating):
		return http.StatusBadRequest

	default:
		return http.StatusInternalServerError
	}
}

func abortWithError(c *gin.Context, err error) {
	c.JSON(statusFor(err), gin.H{"error": err.Error()})
}

func abortBadRequest(c *gin.Context, err error) {
	c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
}
