package http

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/vovakirdan/wiredm/internal/auth"
	"github.com/vovakirdan/wiredm/internal/core"
	"github.com/vovakirdan/wiredm/internal/proto"
)

// APIHandlers provides HTTP handlers for account endpoints.
type APIHandlers struct {
	authService *auth.Service
	log         *zerolog.Logger
}

// NewAPIHandlers creates a new API handlers instance.
func NewAPIHandlers(authService *auth.Service, logger *zerolog.Logger) *APIHandlers {
	return &APIHandlers{
		authService: authService,
		log:         logger,
	}
}

// Register handles user registration.
// POST /api/register
func (h *APIHandlers) Register(c *gin.Context) {
	var req proto.RegisterRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.log.Debug().Err(err).Msg("invalid register request")
		c.JSON(http.StatusBadRequest, proto.ErrorResponse{Error: "invalid request body", Code: core.ErrCodeBadRequest})
		return
	}

	sess, err := h.authService.Register(c.Request.Context(), req.Username, req.FullName, req.Password)
	if err != nil {
		switch {
		case errors.Is(err, auth.ErrUserExists):
			c.JSON(http.StatusConflict, proto.ErrorResponse{Error: "user already exists", Code: core.ErrCodeValidation})
		case errors.Is(err, auth.ErrInvalidUsername), errors.Is(err, auth.ErrInvalidPassword):
			c.JSON(http.StatusBadRequest, proto.ErrorResponse{Error: err.Error(), Code: core.ErrCodeValidation})
		default:
			h.log.Error().Err(err).Str("username", req.Username).Msg("failed to register user")
			c.JSON(http.StatusInternalServerError, proto.ErrorResponse{Error: "internal server error", Code: core.ErrCodeStorage})
		}
		return
	}

	h.log.Info().Str("username", sess.User.Username).Int64("user_id", sess.User.ID).Msg("user registered successfully")
	c.JSON(http.StatusCreated, proto.AuthResponse{Token: sess.Token, UserID: sess.User.ID})
}

// Login handles user login.
// POST /api/login
func (h *APIHandlers) Login(c *gin.Context) {
	var req proto.LoginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.log.Debug().Err(err).Msg("invalid login request")
		c.JSON(http.StatusBadRequest, proto.ErrorResponse{Error: "invalid request body", Code: core.ErrCodeBadRequest})
		return
	}

	sess, err := h.authService.Login(c.Request.Context(), req.Username, req.Password)
	if err != nil {
		if errors.Is(err, auth.ErrInvalidCredentials) {
			c.JSON(http.StatusUnauthorized, proto.ErrorResponse{Error: "invalid credentials", Code: core.ErrCodeUnauthorized})
			return
		}
		h.log.Error().Err(err).Str("username", req.Username).Msg("failed to login user")
		c.JSON(http.StatusInternalServerError, proto.ErrorResponse{Error: "internal server error", Code: core.ErrCodeStorage})
		return
	}

	h.log.Info().Str("username", sess.User.Username).Msg("user logged in successfully")
	c.JSON(http.StatusOK, proto.AuthResponse{Token: sess.Token, UserID: sess.User.ID})
}
