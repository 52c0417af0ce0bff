package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// HTTPStore talks to a remote cache service:
//
//	GET <base>/api/cache/<id>
//	PUT <base>/api/cache/<id>?ttl=<ms>
//
// Both carry "Authorization: Bearer <secret>".
type HTTPStore struct {
	base   string
	client *http.Client
}

var _ Store = (*HTTPStore)(nil)

// NewHTTPStore returns a store rooted at base. A nil client uses a client
// with the given timeout (zero means none).
func NewHTTPStore(base string, client *http.Client, timeout time.Duration) *HTTPStore {
	if client == nil {
		client = &http.Client{Timeout: timeout}
	}
	return &HTTPStore{base: strings.TrimRight(base, "/"), client: client}
}

func (s *HTTPStore) docURL(id string) string {
	return s.base + "/api/cache/" + url.PathEscape(id)
}

func (s *HTTPStore) Get(ctx context.Context, id, secret string) (*Payload, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.docURL(id), nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+secret)
	req.Header.Set("Accept", "application/json")
	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("remote get: %w", err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusNotFound, http.StatusNoContent:
		return nil, nil
	case http.StatusUnauthorized, http.StatusForbidden:
		return nil, ErrUnauthorized
	default:
		return nil, fmt.Errorf("%w: %s", ErrBadStatus, resp.Status)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("remote get: %w", err)
	}
	if len(bytes.TrimSpace(body)) == 0 || string(bytes.TrimSpace(body)) == "null" {
		return nil, nil
	}
	var p Payload
	if err := json.Unmarshal(body, &p); err != nil {
		return nil, fmt.Errorf("remote get: decode: %w", err)
	}
	return &p, nil
}

func (s *HTTPStore) Put(ctx context.Context, id, secret string, p Payload, ttl time.Duration) error {
	body, err := json.Marshal(p)
	if err != nil {
		return err
	}
	u := s.docURL(id) + "?ttl=" + strconv.FormatInt(ttl.Milliseconds(), 10)
	req, err := http.NewRequestWithContext(ctx, http.MethodPut, u, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+secret)
	req.Header.Set("Content-Type", "application/json")
	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("remote put: %w", err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return nil
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return ErrUnauthorized
	default:
		return fmt.Errorf("%w: %s", ErrBadStatus, resp.Status)
	}
}
