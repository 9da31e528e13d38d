package http

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/vovakirdan/wiredm/internal/core"
	"github.com/vovakirdan/wiredm/internal/proto"
)

var statusByCode = map[string]int{
	core.ErrCodeValidation:         http.StatusBadRequest,
	core.ErrCodeBadRequest:         http.StatusBadRequest,
	core.ErrCodeUnsupportedVersion: http.StatusBadRequest,
	core.ErrCodeUnauthorized:       http.StatusUnauthorized,
	core.ErrCodeForbidden:          http.StatusForbidden,
	core.ErrCodeNotFound:           http.StatusNotFound,
	core.ErrCodeRateLimited:        http.StatusTooManyRequests,
	core.ErrCodeStorage:            http.StatusInternalServerError,
}

// writeError classifies err and writes it as an ErrorResponse.
// Storage failures are logged with their cause; the client only sees a generic message.
func writeError(c *gin.Context, logger *zerolog.Logger, op string, err error) {
	ce := core.ToCoreError(err)
	status, ok := statusByCode[ce.Code]
	if !ok {
		status = http.StatusInternalServerError
	}

	if status >= http.StatusInternalServerError {
		logger.Error().Err(err).Str("op", op).Msg("request failed")
	} else {
		logger.Debug().Err(err).Str("op", op).Str("code", ce.Code).Msg("request rejected")
	}
	c.JSON(status, proto.ErrorResponse{Error: ce.Message, Code: ce.Code})
}

func badRequest(c *gin.Context, msg string) {
	c.JSON(http.StatusBadRequest, proto.ErrorResponse{Error: msg, Code: core.ErrCodeBadRequest})
}
