package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// ErrOwnerUnresolved indicates a provider number that maps to no account.
var ErrOwnerUnresolved = errors.New("owner unresolved")

// AccountDirectory resolves a provider-side business number to the internal
// account that owns it.
type AccountDirectory interface {
	ResolveNumber(ctx context.Context, number string) (string, error)
}

type accountDirectory struct {
	baseURL        string
	resourceSecret string
	httpClient     *http.Client
}

type resolveNumberResponse struct {
	AccountID string `json:"account_id"`
}

// NewAccountDirectory creates an accounts-service client for number lookups.
func NewAccountDirectory(baseURL string, resourceSecret string) (AccountDirectory, error) {
	baseURL = strings.TrimSpace(baseURL)
	resourceSecret = strings.TrimSpace(resourceSecret)
	if baseURL == "" {
		return nil, errors.New("accounts base URL is required")
	}
	if resourceSecret == "" {
		return nil, errors.New("accounts resource secret is required")
	}
	return &accountDirectory{
		baseURL:        baseURL,
		resourceSecret: resourceSecret,
		httpClient: &http.Client{
			Timeout: 5 * time.Second,
		},
	}, nil
}

func (d *accountDirectory) ResolveNumber(ctx context.Context, number string) (string, error) {
	if d == nil || d.httpClient == nil {
		return "", errors.New("account directory is not configured")
	}
	number = strings.TrimSpace(number)
	if number == "" {
		return "", ErrOwnerUnresolved
	}

	endpoint := strings.TrimRight(d.baseURL, "/") + "/accounts/by-number?number=" + url.QueryEscape(number)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return "", fmt.Errorf("build account lookup request: %w", err)
	}
	req.Header.Set("X-Resource-Secret", d.resourceSecret)

	resp, err := d.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("call account lookup: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return "", ErrOwnerUnresolved
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("account lookup status %d", resp.StatusCode)
	}

	var payload resolveNumberResponse
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return "", fmt.Errorf("decode account lookup response: %w", err)
	}
	accountID := strings.TrimSpace(payload.AccountID)
	if accountID == "" {
		return "", fmt.Errorf("account lookup returned empty account id")
	}
	return accountID, nil
}
