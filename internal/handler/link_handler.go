package handler

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/tinylink/go-server/internal/repository"
	"github.com/tinylink/go-server/internal/service"
)

const apiVersion = "1.0"

type CreateLinkRequest struct {
	URL  string `json:"url"`
	Code string `json:"code"`
}

type CreateLinkResponse struct {
	Code     string `json:"code"`
	ShortURL string `json:"shortUrl"`
	URL      string `json:"url"`
	Clicks   int64  `json:"clicks"`
}

type HealthResponse struct {
	OK      bool   `json:"ok"`
	Version string `json:"version"`
}

type ErrorResponse struct {
	Error   string `json:"error"`
	Code    string `json:"code,omitempty"`
}

type LinkHandler struct {
	service *service.LinkService
	baseURL string
	logger  *zap.Logger
}

// NewLinkHandler builds the handler; an empty baseURL means short URLs are
// built from the scheme and host of each request.
func NewLinkHandler(service *service.LinkService, baseURL string) *LinkHandler {
	return &LinkHandler{
		service: service,
		baseURL: strings.TrimRight(baseURL, "/"),
		logger:  zap.L().With(zap.String("component", "LinkHandler")),
	}
}

func (h *LinkHandler) Root(c *gin.Context) {
	c.String(http.StatusOK, "TinyLink Backend Running")
}

func (h *LinkHandler) Health(c *gin.Context) {
	c.JSON(http.StatusOK, HealthResponse{OK: true, Version: apiVersion})
}

func (h *LinkHandler) CreateLink(c *gin.Context) {
	var req CreateLinkRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.logger.Warn("Invalid request body", zap.Error(err))
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error: "Invalid request format",
			Code:  "INVALID_JSON",
		})
		return
	}

	link, err := h.service.ShortenURL(c.Request.Context(), req.URL, req.Code)
	if err != nil {
		h.handleError(c, err)
		return
	}

	c.JSON(http.StatusCreated, CreateLinkResponse{
		Code:     link.Code,
		ShortURL: h.shortURL(c, link.Code),
		URL:      link.URL,
		Clicks:   0,
	})
}

func (h *LinkHandler) ListLinks(c *gin.Context) {
	links, err := h.service.ListLinks(c.Request.Context())
	if err != nil {
		h.handleError(c, err)
		return
	}

	c.JSON(http.StatusOK, links)
}

func (h *LinkHandler) GetLink(c *gin.Context) {
	link, err := h.service.GetLink(c.Request.Context(), c.Param("code"))
	if err != nil {
		h.handleError(c, err)
		return
	}

	c.JSON(http.StatusOK, link)
}

func (h *LinkHandler) DeleteLink(c *gin.Context) {
	if err := h.service.DeleteLink(c.Request.Context(), c.Param("code")); err != nil {
		h.handleError(c, err)
		return
	}

	c.Status(http.StatusNoContent)
}

// Redirect sends the visitor on and counts the click. Reserved route names
// fall through to not found inside the service without a lookup.
func (h *LinkHandler) Redirect(c *gin.Context) {
	code := c.Param("code")

	target, err := h.service.Resolve(c.Request.Context(), code)
	if err != nil {
		if errors.Is(err, repository.ErrLinkNotFound) {
			c.String(http.StatusNotFound, "Not found")
			return
		}
		h.logger.Error("Redirect failed", zap.Error(err), zap.String("code", code))
		c.String(http.StatusInternalServerError, "internal_server_error")
		return
	}

	c.Redirect(http.StatusFound, target)
}

func (h *LinkHandler) shortURL(c *gin.Context, code string) string {
	base := h.baseURL
	if base == "" {
		scheme := "http"
		if c.Request.TLS != nil {
			scheme = "https"
		}
		if proto := c.GetHeader("X-Forwarded-Proto"); proto != "" {
			scheme = strings.TrimSpace(strings.Split(proto, ",")[0])
		}
		base = scheme + "://" + c.Request.Host
	}
	return base + "/" + code
}

func (h *LinkHandler) handleError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, service.ErrInvalidURL):
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error: "invalid url; must be absolute (http/https)",
			Code:  "INVALID_URL",
		})
	case errors.Is(err, service.ErrInvalidCode):
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error: "code must match [A-Za-z0-9]{6,8}",
			Code:  "INVALID_CODE",
		})
	case errors.Is(err, repository.ErrCodeConflict):
		c.JSON(http.StatusConflict, ErrorResponse{
			Error: "code already exists",
			Code:  "CODE_CONFLICT",
		})
	case errors.Is(err, repository.ErrLinkNotFound):
		c.JSON(http.StatusNotFound, ErrorResponse{
			Error: "not_found",
			Code:  "LINK_NOT_FOUND",
		})
	case errors.Is(err, service.ErrGenerationExhausted):
		h.logger.Error("Code generation max attempts reached", zap.Error(err))
		c.JSON(http.StatusInternalServerError, ErrorResponse{
			Error: "could not generate code",
			Code:  "ID_GENERATION_FAILED",
		})
	default:
		h.logger.Error("Unexpected error", zap.Error(err))
		c.JSON(http.StatusInternalServerError, ErrorResponse{
			Error: "internal_server_error",
			Code:  "INTERNAL_ERROR",
		})
	}
}
