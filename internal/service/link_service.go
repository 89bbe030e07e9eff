package service

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/tinylink/go-server/internal/metrics"
	"github.com/tinylink/go-server/internal/model"
	"github.com/tinylink/go-server/internal/repository"
)

var (
	ErrInvalidURL          = errors.New("invalid URL format")
	ErrInvalidCode         = errors.New("invalid short code format")
	ErrGenerationExhausted = errors.New("failed to generate unique code after max attempts")
)

const (
	maxCodeGenerationAttempts = 10
	maxURLLength              = 2048
)

// LinkService validates input and assigns codes on top of a LinkRepository
type LinkService struct {
	repo    repository.LinkRepository
	logger  *zap.Logger
	tracer  trace.Tracer
	newCode func() (string, error)
}

// NewLinkService creates a new LinkService
func NewLinkService(repo repository.LinkRepository) *LinkService {
	return &LinkService{
		repo:    repo,
		logger:  zap.L().With(zap.String("component", "LinkService")),
		tracer:  otel.Tracer("github.com/tinylink/go-server/internal/service"),
		newCode: createCode,
	}
}

// ShortenURL stores rawURL under customCode, or under a generated code when
// customCode is empty. Uniqueness is left to the repository: a taken custom
// code is reported as-is, a taken generated code is redrawn.
func (s *LinkService) ShortenURL(ctx context.Context, rawURL, customCode string) (*model.Link, error) {
	ctx, span := s.tracer.Start(ctx, "LinkService.ShortenURL")
	defer span.End()

	if !isValidURL(rawURL) {
		s.logger.Warn("Invalid URL provided", zap.String("url", rawURL))
		metrics.LinkCreationTotal.WithLabelValues("invalid").Inc()
		return nil, ErrInvalidURL
	}

	if customCode != "" {
		span.SetAttributes(attribute.Bool("link.custom_code", true))
		if !IsValidCode(customCode) || IsReservedCode(customCode) {
			s.logger.Warn("Invalid custom code", zap.String("code", customCode))
			metrics.LinkCreationTotal.WithLabelValues("invalid").Inc()
			return nil, ErrInvalidCode
		}

		link, err := s.repo.Create(ctx, customCode, rawURL)
		if err != nil {
			return nil, s.creationFailed(span, err)
		}
		metrics.LinkCreationTotal.WithLabelValues("created").Inc()
		return link, nil
	}

	link, err := s.createWithGeneratedCode(ctx, rawURL)
	if err != nil {
		return nil, s.creationFailed(span, err)
	}
	metrics.LinkCreationTotal.WithLabelValues("created").Inc()
	return link, nil
}

func (s *LinkService) createWithGeneratedCode(ctx context.Context, rawURL string) (*model.Link, error) {
	for attempt := 1; attempt <= maxCodeGenerationAttempts; attempt++ {
		code, err := s.newCode()
		if err != nil {
			return nil, err
		}
		if IsReservedCode(code) {
			continue
		}

		link, err := s.repo.Create(ctx, code, rawURL)
		if err == nil {
			return link, nil
		}
		if !errors.Is(err, repository.ErrCodeConflict) {
			return nil, err
		}

		metrics.CodeCollisionsTotal.Inc()
		s.logger.Debug("Generated code collided, retrying",
			zap.String("code", code),
			zap.Int("attempt", attempt),
		)
	}

	s.logger.Error("Code generation exhausted", zap.Int("attempts", maxCodeGenerationAttempts))
	return nil, ErrGenerationExhausted
}

func (s *LinkService) creationFailed(span trace.Span, err error) error {
	switch {
	case errors.Is(err, repository.ErrCodeConflict):
		metrics.LinkCreationTotal.WithLabelValues("conflict").Inc()
	case errors.Is(err, ErrGenerationExhausted):
		metrics.LinkCreationTotal.WithLabelValues("exhausted").Inc()
		span.SetStatus(codes.Error, err.Error())
	default:
		metrics.LinkCreationTotal.WithLabelValues("error").Inc()
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	return err
}

// GetLink returns the stored link for code
func (s *LinkService) GetLink(ctx context.Context, code string) (*model.Link, error) {
	if !IsValidCode(code) {
		return nil, ErrInvalidCode
	}
	return s.repo.FindByCode(ctx, code)
}

// ListLinks returns all links, newest first
func (s *LinkService) ListLinks(ctx context.Context) ([]model.Link, error) {
	links, err := s.repo.List(ctx)
	if err != nil {
		return nil, err
	}
	if links == nil {
		links = []model.Link{}
	}
	return links, nil
}

// DeleteLink removes the link for code
func (s *LinkService) DeleteLink(ctx context.Context, code string) error {
	if !IsValidCode(code) {
		return ErrInvalidCode
	}
	return s.repo.Delete(ctx, code)
}

// Resolve returns the destination for a visitor and counts the click.
// Anything that cannot be a stored code is simply not found.
func (s *LinkService) Resolve(ctx context.Context, code string) (string, error) {
	ctx, span := s.tracer.Start(ctx, "LinkService.Resolve", trace.WithAttributes(attribute.String("link.code", code)))
	defer span.End()

	if IsReservedCode(code) || !IsValidCode(code) {
		metrics.RedirectTotal.WithLabelValues("not_found").Inc()
		return "", repository.ErrLinkNotFound
	}

	target, err := s.repo.ResolveAndBump(ctx, code)
	if err != nil {
		if errors.Is(err, repository.ErrLinkNotFound) {
			metrics.RedirectTotal.WithLabelValues("not_found").Inc()
			return "", err
		}
		metrics.RedirectTotal.WithLabelValues("error").Inc()
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return "", fmt.Errorf("resolve %s: %w", code, err)
	}

	metrics.RedirectTotal.WithLabelValues("found").Inc()
	return target, nil
}

// isValidURL accepts absolute http(s) URLs with a host
func isValidURL(rawURL string) bool {
	if rawURL == "" || len(rawURL) > maxURLLength {
		return false
	}
	if strings.TrimSpace(rawURL) != rawURL {
		return false
	}

	parsed, err := url.Parse(rawURL)
	if err != nil {
		return false
	}

	scheme := strings.ToLower(parsed.Scheme)
	if scheme != "http" && scheme != "https" {
		return false
	}

	return parsed.Host != "" && parsed.Hostname() != ""
}
