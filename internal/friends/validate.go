package friends

import (
	"math"
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/circle/backend/internal/models"
)

const (
	// DefaultPageSize applies when the caller does not pick a page size.
	DefaultPageSize = 20
	// MaxPageSize caps caller supplied page sizes.
	MaxPageSize = 100
)

var validate = validator.New(validator.WithRequiredStructEnabled())

// NormalizeEmail lower-cases and trims an address without validating it.
func NormalizeEmail(raw string) string {
	return strings.ToLower(strings.TrimSpace(raw))
}

// ValidateEmail normalises raw and checks that it is a syntactically valid address.
func ValidateEmail(raw string) (string, error) {
	email := NormalizeEmail(raw)
	if err := validate.Var(email, "required,email,max=254"); err != nil {
		return "", newError(KindInvalidArgument, "a valid email address is required")
	}
	return email, nil
}

// ParseRequestID parses a friend request id taken from a path segment.
func ParseRequestID(raw string) (int64, error) {
	id, err := strconv.ParseInt(strings.TrimSpace(raw), 10, 64)
	if err != nil || id <= 0 {
		return 0, newError(KindInvalidArgument, "request id must be a positive integer")
	}
	return id, nil
}

// PageLimits bounds page sizes accepted from callers.
type PageLimits struct {
	DefaultSize int
	MaxSize     int
}

// ParsePage parses 1-based page number and size query values. Empty values fall
// back to the first page and the default size.
func ParsePage(rawNumber, rawSize string, limits PageLimits) (models.Page, error) {
	if limits.DefaultSize <= 0 {
		limits.DefaultSize = DefaultPageSize
	}
	if limits.MaxSize <= 0 {
		limits.MaxSize = MaxPageSize
	}

	page := models.Page{Number: 1, Size: limits.DefaultSize}

	if raw := strings.TrimSpace(rawNumber); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			return models.Page{}, newError(KindInvalidArgument, "page must be a positive integer")
		}
		page.Number = n
	}

	if raw := strings.TrimSpace(rawSize); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			return models.Page{}, newError(KindInvalidArgument, "page size must be a positive integer")
		}
		if n > limits.MaxSize {
			n = limits.MaxSize
		}
		page.Size = n
	}

	if page.Number-1 > math.MaxInt/page.Size {
		return models.Page{}, newError(KindInvalidArgument, "page is out of range")
	}

	return page, nil
}

func normalizePage(page models.Page) models.Page {
	if page.Number < 1 {
		page.Number = 1
	}
	if page.Size < 1 {
		page.Size = DefaultPageSize
	}
	return page
}
