package theme

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
)

// Info is the repository's description of a theme.
type Info struct {
	Slug         string `json:"slug"`
	Name         string `json:"name"`
	Version      string `json:"version"`
	DownloadLink string `json:"download_link"`
	Error        string `json:"error,omitempty"`
}

// Repository is a client for the theme information API.
type Repository struct {
	BaseURL string
	Client  *http.Client
}

// Info looks up slug. The request mirrors the public themes API:
// GET <base>/themes/info/1.2/?action=theme_information&request[slug]=<slug>.
func (r *Repository) Info(ctx context.Context, slug string) (*Info, error) {
	q := url.Values{}
	q.Set("action", "theme_information")
	q.Set("request[slug]", slug)
	endpoint := strings.TrimRight(r.BaseURL, "/") + "/themes/info/1.2/?" + q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}
	client := r.Client
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var info Info
	if err := json.NewDecoder(resp.Body).Decode(&info); err != nil {
		if resp.StatusCode != http.StatusOK {
			return nil, fmt.Errorf("repository returned %s", resp.Status)
		}
		return nil, fmt.Errorf("decode theme information: %w", err)
	}
	if info.Error != "" {
		return nil, errors.New(info.Error)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("repository returned %s", resp.Status)
	}
	if info.DownloadLink == "" {
		return nil, errors.New("theme information has no download link")
	}
	return &info, nil
}
