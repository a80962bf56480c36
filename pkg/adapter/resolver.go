package adapter

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"unicode/utf8"

	"github.com/psantana5/phoenix-oracle/pkg/models"
	"github.com/shopspring/decimal"
	"github.com/tidwall/gjson"
)

// ErrUnencodable means the fetched value cannot be encoded for the selector's variant
var ErrUnencodable = errors.New("value cannot be encoded")

// Resolver fetches feed data and encodes it for a handler variant
type Resolver struct {
	httpClient *http.Client
}

// NewResolver creates a resolver. A nil client uses http.DefaultClient.
func NewResolver(hc *http.Client) *Resolver {
	if hc == nil {
		hc = http.DefaultClient
	}
	return &Resolver{httpClient: hc}
}

// Fetch performs the feed's HTTP GET and extracts the value at its JSON path.
// An empty path yields the whole body.
func (r *Resolver) Fetch(ctx context.Context, feed *Feed) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, feed.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, feed.URL, nil)
	if err != nil {
		return "", fmt.Errorf("failed to build feed request: %w", err)
	}
	for k, v := range feed.Headers {
		req.Header.Set(k, v)
	}

	resp, err := r.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("failed to fetch %s: %w", feed.URL, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", fmt.Errorf("failed to read feed body: %w", err)
	}
	if resp.StatusCode >= 300 {
		return "", fmt.Errorf("feed %s returned status %d: %s", feed.Name, resp.StatusCode, strings.TrimSpace(string(body)))
	}

	if feed.Path == "" {
		return strings.TrimSpace(string(body)), nil
	}
	if !gjson.ValidBytes(body) {
		return "", fmt.Errorf("feed %s returned invalid JSON", feed.Name)
	}
	result := gjson.GetBytes(body, feed.Path)
	if !result.Exists() {
		return "", fmt.Errorf("feed %s: path %q not found", feed.Name, feed.Path)
	}
	return result.String(), nil
}

// Encode converts a fetched value to the payload the variant expects
func Encode(kind models.HandlerKind, value string, times decimal.Decimal) ([]byte, error) {
	switch kind {
	case models.HandlerValue:
		return []byte(value), nil

	case models.HandlerBytes32:
		// Longer values are truncated to the word size
		word := []byte(value)
		if len(word) > 32 {
			word = word[:32]
		}
		return word, nil

	case models.HandlerPrice:
		d, err := decimal.NewFromString(strings.TrimSpace(value))
		if err != nil {
			return nil, fmt.Errorf("%w: %q is not a number", ErrUnencodable, value)
		}
		scaled := d.Mul(times).Truncate(0)
		if scaled.IsNegative() {
			return nil, fmt.Errorf("%w: negative price %s", ErrUnencodable, scaled)
		}
		raw := scaled.BigInt().Bytes()
		if len(raw) > 32 {
			return nil, fmt.Errorf("%w: price %s overflows uint256", ErrUnencodable, scaled)
		}
		if len(raw) == 0 {
			raw = []byte{0}
		}
		return raw, nil

	case models.HandlerText:
		if !utf8.ValidString(value) {
			return nil, fmt.Errorf("%w: text is not valid UTF-8", ErrUnencodable)
		}
		return []byte(value), nil
	}
	return nil, fmt.Errorf("%w: unsupported handler %s", ErrUnencodable, kind)
}
