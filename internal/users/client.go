package users

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"messaging-service/internal/models"
)

var ErrUserNotFound = errors.New("user not found")

// Directory resolves user identities owned by the marketplace core service.
type Directory interface {
	GetUser(ctx context.Context, userID int) (models.User, error)
	BulkUsers(ctx context.Context, userIDs []int) ([]models.User, error)
}

// HTTPClient is a Directory backed by the marketplace internal REST API.
type HTTPClient struct {
	baseURL string
	client  *http.Client
}

// NewHTTPClient constructs an HTTPClient for the given base URL.
func NewHTTPClient(baseURL string) *HTTPClient {
	return &HTTPClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{Timeout: 5 * time.Second},
	}
}

// GetUser fetches a single user by id.
func (c *HTTPClient) GetUser(ctx context.Context, userID int) (models.User, error) {
	endpoint := fmt.Sprintf("%s/internal/users/%d", c.baseURL, userID)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return models.User{}, err
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return models.User{}, fmt.Errorf("user service request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return models.User{}, ErrUserNotFound
	}
	if resp.StatusCode != http.StatusOK {
		return models.User{}, fmt.Errorf("user service returned status %d", resp.StatusCode)
	}

	var user models.User
	if err := json.NewDecoder(resp.Body).Decode(&user); err != nil {
		return models.User{}, fmt.Errorf("decode user response: %w", err)
	}
	return user, nil
}

// BulkUsers fetches several users in one round trip. Unknown ids are
// silently absent from the result.
func (c *HTTPClient) BulkUsers(ctx context.Context, userIDs []int) ([]models.User, error) {
	if len(userIDs) == 0 {
		return nil, nil
	}

	ids := make([]string, 0, len(userIDs))
	for _, id := range userIDs {
		ids = append(ids, strconv.Itoa(id))
	}

	endpoint := fmt.Sprintf("%s/internal/users?ids=%s", c.baseURL, url.QueryEscape(strings.Join(ids, ",")))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("user service request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("user service returned status %d", resp.StatusCode)
	}

	var payload struct {
		Users []models.User `json:"users"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, fmt.Errorf("decode users response: %w", err)
	}
	return payload.Users, nil
}
