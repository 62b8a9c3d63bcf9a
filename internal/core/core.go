// Package core reinstalls the platform's core files at the installed version
// using the offer returned by the version-check endpoint.
package core

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/lyndonlyu/sitereset/internal/upgrader"
)

var ErrNoOffers = errors.New("core: no update offers")

// Offer is one entry of the version-check response.
type Offer struct {
	Response string `json:"response"`
	Download string `json:"download"`
	Current  string `json:"current"`
	Locale   string `json:"locale"`
}

// ReinstallError carries every error the installer reported.
type ReinstallError struct {
	Errors []string
}

func (e *ReinstallError) Error() string {
	return "Core reinstall failed: " + strings.Join(e.Errors, "; ")
}

// Reinstaller reinstalls core files below Root, leaving ContentDir alone.
type Reinstaller struct {
	Root       string
	ContentDir string
	Endpoint   string
	Locale     string
	Client     *http.Client
	Logger     *slog.Logger
}

var versionRe = regexp.MustCompile(`\$wp_version\s*=\s*'([^']+)'`)

// InstalledVersion reads the core version from wp-includes/version.php.
func (r *Reinstaller) InstalledVersion() (string, error) {
	data, err := os.ReadFile(filepath.Join(r.Root, "wp-includes", "version.php"))
	if err != nil {
		return "", fmt.Errorf("core: read version: %w", err)
	}
	m := versionRe.FindSubmatch(data)
	if m == nil {
		return "", errors.New("core: version.php has no version")
	}
	return string(m[1]), nil
}

func (r *Reinstaller) client() *http.Client {
	if r.Client != nil {
		return r.Client
	}
	return http.DefaultClient
}

// Offers returns the update offers matching the installed version.
func (r *Reinstaller) Offers(ctx context.Context) ([]Offer, error) {
	version, err := r.InstalledVersion()
	if err != nil {
		return nil, err
	}
	q := url.Values{}
	q.Set("version", version)
	if r.Locale != "" {
		q.Set("locale", r.Locale)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, r.Endpoint+"?"+q.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("core: version check: %w", err)
	}
	resp, err := r.client().Do(req)
	if err != nil {
		return nil, fmt.Errorf("core: version check: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("core: version check: %s", resp.Status)
	}

	var body struct {
		Offers []Offer `json:"offers"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("core: decode offers: %w", err)
	}
	var offers []Offer
	for _, o := range body.Offers {
		if o.Current == version && o.Download != "" {
			offers = append(offers, o)
		}
	}
	return offers, nil
}

// Reinstall downloads the first matching offer and unpacks it over Root.
// Installer output goes to a silent skin whose feedback is returned.
func (r *Reinstaller) Reinstall(ctx context.Context) ([]string, error) {
	offers, err := r.Offers(ctx)
	if err != nil {
		return nil, err
	}
	if len(offers) == 0 {
		return nil, ErrNoOffers
	}
	offer := offers[0]
	offer.Response = "reinstall"

	exclude := []string{}
	if rel, err := filepath.Rel(r.Root, r.ContentDir); err == nil && !strings.HasPrefix(rel, "..") {
		rel = filepath.ToSlash(rel)
		exclude = append(exclude, rel, rel+"/**")
	}

	skin := upgrader.NewSilent()
	up := upgrader.New(r.client(), skin)
	installErr := up.Install(ctx, offer.Download, r.Root, upgrader.UnpackOptions{
		StripRoot: true,
		Exclude:   exclude,
	})
	if errs := skin.Errors(); len(errs) > 0 {
		return skin.Messages(), &ReinstallError{Errors: errs}
	}
	if installErr != nil {
		return skin.Messages(), &ReinstallError{Errors: []string{installErr.Error()}}
	}
	if r.Logger != nil {
		r.Logger.Info("core reinstalled", "version", offer.Current, "feedback", len(skin.Messages()))
	}
	return skin.Messages(), nil
}
