package client

import (
	"fmt"
	"net"
	"strings"

	"github.com/samber/lo"

	apperrors "github.com/go-i2p/cachepool/lib/errors"
)

// ParseEndpoints splits a list of host:port endpoints separated by
// whitespace or commas. Duplicates are dropped, keeping first-seen order.
func ParseEndpoints(s string) ([]string, error) {
	fields := strings.FieldsFunc(s, func(r rune) bool {
		return r == ',' || r == ' ' || r == '\t' || r == '\n'
	})
	return NormalizeEndpoints(fields)
}

// NormalizeEndpoints trims, validates and de-duplicates endpoints.
func NormalizeEndpoints(endpoints []string) ([]string, error) {
	cleaned := lo.Uniq(lo.Compact(lo.Map(endpoints, func(e string, _ int) string {
		return strings.TrimSpace(e)
	})))
	if len(cleaned) == 0 {
		return nil, apperrors.ErrNoEndpoints
	}

	for _, e := range cleaned {
		host, port, err := net.SplitHostPort(e)
		if err != nil {
			return nil, fmt.Errorf("invalid endpoint %q: %w: %w", e, apperrors.ErrInvalidInput, err)
		}
		if host == "" || port == "" {
			return nil, fmt.Errorf("invalid endpoint %q: %w: missing host or port", e, apperrors.ErrInvalidInput)
		}
	}
	return cleaned, nil
}
