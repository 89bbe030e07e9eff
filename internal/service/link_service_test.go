package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/tinylink/go-server/internal/model"
	"github.com/tinylink/go-server/internal/repository"
)

// MockLinkRepository is a mock implementation of LinkRepository
type MockLinkRepository struct {
	mock.Mock
}

func (m *MockLinkRepository) Create(ctx context.Context, code, url string) (*model.Link, error) {
	args := m.Called(ctx, code, url)
	if fn, ok := args.Get(0).(func(context.Context, string, string) *model.Link); ok {
		return fn(ctx, code, url), args.Error(1)
	}
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.Link), args.Error(1)
}

func (m *MockLinkRepository) FindByCode(ctx context.Context, code string) (*model.Link, error) {
	args := m.Called(ctx, code)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.Link), args.Error(1)
}

func (m *MockLinkRepository) List(ctx context.Context) ([]model.Link, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]model.Link), args.Error(1)
}

func (m *MockLinkRepository) Delete(ctx context.Context, code string) error {
	args := m.Called(ctx, code)
	return args.Error(0)
}

func (m *MockLinkRepository) ResolveAndBump(ctx context.Context, code string) (string, error) {
	args := m.Called(ctx, code)
	return args.String(0), args.Error(1)
}

func setupService(t *testing.T) (*LinkService, *MockLinkRepository) {
	// Initialize logger for tests
	logger, _ := zap.NewDevelopment()
	zap.ReplaceGlobals(logger)

	mockRepo := new(MockLinkRepository)
	service := NewLinkService(mockRepo)

	return service, mockRepo
}

// fixedCodes makes the generator return codes in order
func fixedCodes(codes ...string) func() (string, error) {
	i := 0
	return func() (string, error) {
		code := codes[i%len(codes)]
		i++
		return code, nil
	}
}

func TestNewLinkService(t *testing.T) {
	mockRepo := new(MockLinkRepository)
	service := NewLinkService(mockRepo)

	assert.NotNil(t, service)
	assert.NotNil(t, service.repo)
	assert.NotNil(t, service.logger)
	assert.NotNil(t, service.newCode)
}

func TestShortenURL_GeneratedCode(t *testing.T) {
	service, mockRepo := setupService(t)
	ctx := context.Background()

	mockRepo.On("Create", mock.Anything, mock.AnythingOfType("string"), "https://example.com").
		Return(func(_ context.Context, code, url string) *model.Link {
			return &model.Link{Code: code, URL: url, CreatedAt: time.Now()}
		}, nil).Once()

	link, err := service.ShortenURL(ctx, "https://example.com", "")

	require.NoError(t, err)
	assert.Len(t, link.Code, codeLength)
	assert.True(t, IsValidCode(link.Code))
	assert.Equal(t, int64(0), link.Clicks)
	mockRepo.AssertExpectations(t)
}

func TestShortenURL_CustomCode(t *testing.T) {
	service, mockRepo := setupService(t)
	ctx := context.Background()

	expected := &model.Link{Code: "mine123", URL: "https://example.com"}
	mockRepo.On("Create", mock.Anything, "mine123", "https://example.com").Return(expected, nil).Once()

	link, err := service.ShortenURL(ctx, "https://example.com", "mine123")

	require.NoError(t, err)
	assert.Equal(t, expected, link)
	mockRepo.AssertExpectations(t)
}

func TestShortenURL_CustomCodeConflict(t *testing.T) {
	service, mockRepo := setupService(t)
	ctx := context.Background()

	mockRepo.On("Create", mock.Anything, "taken12", "https://example.com").
		Return(nil, repository.ErrCodeConflict).Once()

	_, err := service.ShortenURL(ctx, "https://example.com", "taken12")

	assert.ErrorIs(t, err, repository.ErrCodeConflict)
	mockRepo.AssertNumberOfCalls(t, "Create", 1)
}

func TestShortenURL_InvalidURL(t *testing.T) {
	service, mockRepo := setupService(t)
	ctx := context.Background()

	testCases := []struct {
		name string
		url  string
	}{
		{"empty URL", ""},
		{"ftp scheme", "ftp://x"},
		{"not a url", "not-a-url"},
		{"missing host", "http://"},
		{"no scheme", "example.com"},
		{"mailto", "mailto:someone@example.com"},
		{"leading space", " https://example.com"},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := service.ShortenURL(ctx, tc.url, "")
			assert.ErrorIs(t, err, ErrInvalidURL)
		})
	}
	mockRepo.AssertNotCalled(t, "Create", mock.Anything, mock.Anything, mock.Anything)
}

func TestShortenURL_InvalidCustomCode(t *testing.T) {
	service, mockRepo := setupService(t)
	ctx := context.Background()

	testCases := []struct {
		name string
		code string
	}{
		{"too short", "ab"},
		{"bad chars", "valid!!"},
		{"too long", "abcdefghi"},
		{"dash", "abc-123"},
		{"reserved", "healthz"},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := service.ShortenURL(ctx, "https://example.com", tc.code)
			assert.ErrorIs(t, err, ErrInvalidCode)
		})
	}
	mockRepo.AssertNotCalled(t, "Create", mock.Anything, mock.Anything, mock.Anything)
}

func TestShortenURL_RetriesOnCollision(t *testing.T) {
	service, mockRepo := setupService(t)
	service.newCode = fixedCodes("aaaaaaa", "bbbbbbb", "ccccccc")
	ctx := context.Background()

	mockRepo.On("Create", mock.Anything, "aaaaaaa", "https://example.com").Return(nil, repository.ErrCodeConflict).Once()
	mockRepo.On("Create", mock.Anything, "bbbbbbb", "https://example.com").Return(nil, repository.ErrCodeConflict).Once()
	mockRepo.On("Create", mock.Anything, "ccccccc", "https://example.com").
		Return(&model.Link{Code: "ccccccc", URL: "https://example.com"}, nil).Once()

	link, err := service.ShortenURL(ctx, "https://example.com", "")

	require.NoError(t, err)
	assert.Equal(t, "ccccccc", link.Code)
	mockRepo.AssertExpectations(t)
}

func TestShortenURL_GenerationExhausted(t *testing.T) {
	service, mockRepo := setupService(t)
	service.newCode = fixedCodes("samesam")
	ctx := context.Background()

	mockRepo.On("Create", mock.Anything, "samesam", "https://example.com").
		Return(nil, repository.ErrCodeConflict).Times(maxCodeGenerationAttempts)

	_, err := service.ShortenURL(ctx, "https://example.com", "")

	assert.ErrorIs(t, err, ErrGenerationExhausted)
	mockRepo.AssertNumberOfCalls(t, "Create", maxCodeGenerationAttempts)
}

func TestShortenURL_SkipsReservedGeneratedCode(t *testing.T) {
	service, mockRepo := setupService(t)
	service.newCode = fixedCodes("healthz", "okcode1")
	ctx := context.Background()

	mockRepo.On("Create", mock.Anything, "okcode1", "https://example.com").
		Return(&model.Link{Code: "okcode1"}, nil).Once()

	link, err := service.ShortenURL(ctx, "https://example.com", "")

	require.NoError(t, err)
	assert.Equal(t, "okcode1", link.Code)
	mockRepo.AssertExpectations(t)
}

func TestShortenURL_RepositoryError(t *testing.T) {
	service, mockRepo := setupService(t)
	ctx := context.Background()

	dbError := errors.New("database connection failed")
	mockRepo.On("Create", mock.Anything, mock.AnythingOfType("string"), "https://example.com").
		Return(nil, dbError).Once()

	_, err := service.ShortenURL(ctx, "https://example.com", "")

	assert.Equal(t, dbError, err)
	mockRepo.AssertNumberOfCalls(t, "Create", 1)
}

func TestShortenURL_GeneratorError(t *testing.T) {
	service, mockRepo := setupService(t)
	service.newCode = func() (string, error) { return "", errors.New("entropy unavailable") }

	_, err := service.ShortenURL(context.Background(), "https://example.com", "")

	assert.Error(t, err)
	mockRepo.AssertNotCalled(t, "Create", mock.Anything, mock.Anything, mock.Anything)
}

func TestGetLink(t *testing.T) {
	service, mockRepo := setupService(t)
	ctx := context.Background()

	expected := &model.Link{Code: "abc1234", URL: "https://example.com", Clicks: 3}
	mockRepo.On("FindByCode", ctx, "abc1234").Return(expected, nil).Once()
	mockRepo.On("FindByCode", ctx, "nope123").Return(nil, repository.ErrLinkNotFound).Once()

	link, err := service.GetLink(ctx, "abc1234")
	require.NoError(t, err)
	assert.Equal(t, expected, link)

	_, err = service.GetLink(ctx, "nope123")
	assert.ErrorIs(t, err, repository.ErrLinkNotFound)

	_, err = service.GetLink(ctx, "ab")
	assert.ErrorIs(t, err, ErrInvalidCode)

	mockRepo.AssertExpectations(t)
}

func TestListLinks_NilBecomesEmpty(t *testing.T) {
	service, mockRepo := setupService(t)
	ctx := context.Background()

	mockRepo.On("List", ctx).Return(nil, nil).Once()

	links, err := service.ListLinks(ctx)

	require.NoError(t, err)
	assert.NotNil(t, links)
	assert.Empty(t, links)
}

func TestDeleteLink(t *testing.T) {
	service, mockRepo := setupService(t)
	ctx := context.Background()

	mockRepo.On("Delete", ctx, "abc1234").Return(nil).Once()
	mockRepo.On("Delete", ctx, "abc1234").Return(repository.ErrLinkNotFound).Once()

	assert.NoError(t, service.DeleteLink(ctx, "abc1234"))
	assert.ErrorIs(t, service.DeleteLink(ctx, "abc1234"), repository.ErrLinkNotFound)
	assert.ErrorIs(t, service.DeleteLink(ctx, "bad!"), ErrInvalidCode)

	mockRepo.AssertExpectations(t)
}

func TestResolve(t *testing.T) {
	service, mockRepo := setupService(t)
	ctx := context.Background()

	mockRepo.On("ResolveAndBump", mock.Anything, "abc1234").Return("https://example.com", nil).Once()

	target, err := service.Resolve(ctx, "abc1234")

	require.NoError(t, err)
	assert.Equal(t, "https://example.com", target)
	mockRepo.AssertExpectations(t)
}

func TestResolve_NeverLooksUpReservedOrMalformed(t *testing.T) {
	service, mockRepo := setupService(t)
	ctx := context.Background()

	for _, code := range []string{"api", "healthz", "code", "ab", "has-dash", "waytoolongcode"} {
		_, err := service.Resolve(ctx, code)
		assert.ErrorIs(t, err, repository.ErrLinkNotFound, code)
	}
	mockRepo.AssertNotCalled(t, "ResolveAndBump", mock.Anything, mock.Anything)
}

func TestResolve_RepositoryError(t *testing.T) {
	service, mockRepo := setupService(t)

	mockRepo.On("ResolveAndBump", mock.Anything, "abc1234").Return("", repository.ErrDatabaseError).Once()

	_, err := service.Resolve(context.Background(), "abc1234")

	assert.ErrorIs(t, err, repository.ErrDatabaseError)
}

func TestIsValidCode(t *testing.T) {
	testCases := []struct {
		name     string
		code     string
		expected bool
	}{
		{"six chars", "abcdef", true},
		{"seven mixed", "AbC1234", true},
		{"eight digits", "12345678", true},
		{"too short", "abcde", false},
		{"too long", "abcdefghi", false},
		{"with special chars", "abc!@#", false},
		{"with spaces", "abc 123", false},
		{"with underscore", "abc_123", false},
		{"empty string", "", false},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.expected, IsValidCode(tc.code))
		})
	}
}

func TestCreateCode(t *testing.T) {
	for i := 0; i < 10; i++ {
		code, err := createCode()
		require.NoError(t, err)
		assert.Len(t, code, codeLength)
		assert.True(t, IsValidCode(code), "generated code %q does not match pattern", code)
	}

	codes := make(map[string]bool)
	for i := 0; i < 100; i++ {
		code, err := createCode()
		require.NoError(t, err)
		codes[code] = true
	}

	assert.Greater(t, len(codes), 90, "createCode should generate mostly unique codes")
}
