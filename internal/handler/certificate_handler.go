package handler

import (
	"errors"

	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog"

	"github.com/noah-isme/gema-lms-api/internal/service"
	"github.com/noah-isme/gema-lms-api/internal/utils"
)

// CertificateHandler serves learner certificates and public verification.
type CertificateHandler struct {
	service service.CertificateService
	logger  zerolog.Logger
}

// NewCertificateHandler constructs a certificate handler.
func NewCertificateHandler(service service.CertificateService, logger zerolog.Logger) *CertificateHandler {
	return &CertificateHandler{
		service: service,
		logger:  logger.With().Str("component", "certificate_handler").Logger(),
	}
}

// Register binds the authenticated certificate routes.
func (h *CertificateHandler) Register(router fiber.Router) {
	router.Get("/", h.list)
}

// RegisterPublic binds the routes that need no authentication.
func (h *CertificateHandler) RegisterPublic(router fiber.Router) {
	router.Get("/verify/:number", h.verify)
}

func (h *CertificateHandler) list(c *fiber.Ctx) error {
	userID := userIDStringFromContext(c)
	if userID == "" {
		return utils.SendError(c, fiber.StatusUnauthorized, "authentication required")
	}

	certificates, err := h.service.ListForUser(requestContext(c), userID)
	if err != nil {
		requestLogger(h.logger, c).Error().Err(err).Msg("failed to list certificates")
		return utils.SendError(c, fiber.StatusInternalServerError, "failed to list certificates")
	}

	return utils.SendSuccess(c, "certificates", certificates)
}

func (h *CertificateHandler) verify(c *fiber.Ctx) error {
	verification, err := h.service.Verify(requestContext(c), c.Params("number"))
	if err != nil {
		if errors.Is(err, service.ErrCertificateNotFound) {
			return utils.SendError(c, fiber.StatusNotFound, "certificate not found")
		}
		requestLogger(h.logger, c).Error().Err(err).Msg("failed to verify certificate")
		return utils.SendError(c, fiber.StatusInternalServerError, "failed to verify certificate")
	}

	return utils.SendSuccess(c, "certificate verified", verification)
}
