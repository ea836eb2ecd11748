package api

import (
	"net/http"

	"gearshare/internal/domain"

	"github.com/gin-gonic/gin"
)

// statusFor maps an error kind onto the HTTP status of the response.
func statusFor(kind domain.Kind) int {
	switch kind {
	case domain.KindValidation:
		return http.StatusBadRequest
	case domain.KindAuthorization:
		return http.StatusForbidden
	case domain.KindNotFound:
		return http.StatusNotFound
	case domain.KindConflict:
		return http.StatusConflict
	case domain.KindState:
		return http.StatusUnprocessableEntity
	case domain.KindProvider:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func (s *HTTPServer) writeError(c *gin.Context, err error) {
	kind := domain.KindOf(err)
	code := statusFor(kind)

	message := domain.Message(err)
	if kind == domain.KindInternal {
		s.log.Error().Err(err).Str("path", c.Request.URL.Path).Msg("request failed")
		message = "internal error"
	}
	c.AbortWithStatusJSON(code, gin.H{"error": message, "kind": string(kind)})
}

func badRequest(c *gin.Context, message string) {
	c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": message, "kind": string(domain.KindValidation)})
}
