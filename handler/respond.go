package handler

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/noturnachs/wasteph-sub000/pkg/logger"
	"github.com/noturnachs/wasteph-sub000/service"
)

// respondError maps the service failure taxonomy onto HTTP status codes.
// Validation and transition failures echo the specific message; everything
// unclassified collapses to a generic 500 so internals never leak.
func respondError(c *gin.Context, err error) {
	var svcErr *service.Error
	if !errors.As(err, &svcErr) {
		logger.Error(c.Request.Context(), "unhandled error", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
		return
	}

	body := gin.H{"error": svcErr.Msg, "kind": string(svcErr.Kind)}
	if svcErr.Field != "" {
		body["field"] = svcErr.Field
	}

	switch svcErr.Kind {
	case service.KindNotFound:
		c.JSON(http.StatusNotFound, body)
	case service.KindValidationFailed:
		c.JSON(http.StatusBadRequest, body)
	case service.KindForbidden:
		c.JSON(http.StatusForbidden, body)
	case service.KindInvalidTransition, service.KindConflictingWrite:
		c.JSON(http.StatusConflict, body)
	case service.KindRenderFailed, service.KindDeliveryFailed:
		logger.Error(c.Request.Context(), "upstream failure", "kind", string(svcErr.Kind), "error", err)
		c.JSON(http.StatusBadGateway, body)
	default:
		logger.Error(c.Request.Context(), "unclassified service error", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
	}
}
