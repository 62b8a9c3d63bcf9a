// Package preserve captures the values that must survive a reset and writes
// them back once the database has been reinstalled.
package preserve

import (
	"fmt"
	"strconv"
	"time"

	"github.com/lyndonlyu/sitereset/internal/brand"
	"github.com/lyndonlyu/sitereset/internal/options"
	"github.com/lyndonlyu/sitereset/internal/sitedb"
	"github.com/lyndonlyu/sitereset/internal/step"
)

// Option names read and written by Capture and Restore.
const (
	OptToken          = "nfd_data_token"
	OptModuleVersion  = "nfd_data_module_version"
	OptAttempts       = "nfd_data_connection_attempts"
	TransientThrottle = "nfd_data_connection_throttle"
	OptComingSoon     = "nfd_coming_soon"
	RestoredMessage   = "Restored hosting connection data and token."
)

// Payload is the snapshot carried from prepare to execute. An empty string
// means "do not write".
type Payload struct {
	BlogName                   string `json:"blogname"`
	BlogPublic                 string `json:"blog_public"`
	SiteURL                    string `json:"siteurl"`
	Home                       string `json:"home"`
	Locale                     string `json:"wplang"`
	UserPass                   string `json:"user_pass"`
	UserLogin                  string `json:"user_login"`
	UserEmail                  string `json:"user_email"`
	BrandBasename              string `json:"brand_basename"`
	DataToken                  string `json:"nfd_data_token"`
	DataModuleVersion          string `json:"nfd_data_module_version"`
	DataConnectionAttempts     string `json:"nfd_data_connection_attempts"`
	DataConnectionThrottle     string `json:"nfd_data_connection_throttle"`
	DataConnectionThrottleTime string `json:"nfd_data_connection_throttle_timeout"`
	BrandVersionOption         string `json:"brand_plugin_version_option"`
	BrandVersion               string `json:"brand_plugin_version"`
}

// IsZero reports whether nothing was captured.
func (p Payload) IsZero() bool { return p == Payload{} }

// Capture reads the preserved values from the store, the acting user and
// the brand configuration.
func Capture(store options.Store, user *sitedb.User, b brand.Brand) (Payload, error) {
	if user == nil {
		return Payload{}, fmt.Errorf("preserve: capture: no acting user")
	}
	p := Payload{
		UserPass:           user.PassHash,
		UserLogin:          user.Login,
		UserEmail:          user.Email,
		BrandBasename:      b.Basename,
		BrandVersionOption: b.VersionOption(),
	}
	fields := []struct {
		option string
		dst    *string
	}{
		{"blogname", &p.BlogName},
		{"blog_public", &p.BlogPublic},
		{"siteurl", &p.SiteURL},
		{"home", &p.Home},
		{"WPLANG", &p.Locale},
		{OptToken, &p.DataToken},
		{OptModuleVersion, &p.DataModuleVersion},
		{OptAttempts, &p.DataConnectionAttempts},
		{options.TransientPrefix + TransientThrottle, &p.DataConnectionThrottle},
		{options.TransientTimeoutPrefix + TransientThrottle, &p.DataConnectionThrottleTime},
		{p.BrandVersionOption, &p.BrandVersion},
	}
	for _, f := range fields {
		v, err := store.Get(f.option, "")
		if err != nil {
			return Payload{}, fmt.Errorf("preserve: capture %s: %w", f.option, err)
		}
		*f.dst = v
	}
	return p, nil
}

// Restore writes the connection values of p back into store. Empty values
// are skipped, an expired throttle is dropped and the coming-soon flag is
// always set. A write failure is returned as an error.
func Restore(store options.Store, p Payload, now time.Time) (step.Result, error) {
	var restored []string
	set := func(name, value string) error {
		if value == "" {
			return nil
		}
		if err := store.Set(name, value); err != nil {
			return fmt.Errorf("preserve: restore %s: %w", name, err)
		}
		restored = append(restored, name)
		return nil
	}

	for _, kv := range [][2]string{
		{OptToken, p.DataToken},
		{OptModuleVersion, p.DataModuleVersion},
		{OptAttempts, p.DataConnectionAttempts},
	} {
		if err := set(kv[0], kv[1]); err != nil {
			return step.Result{}, err
		}
	}

	if p.DataConnectionThrottle != "" && p.DataConnectionThrottleTime != "" {
		if expiry, err := strconv.ParseInt(p.DataConnectionThrottleTime, 10, 64); err == nil {
			if remaining := expiry - now.Unix(); remaining > 0 {
				if err := store.SetTransient(TransientThrottle, p.DataConnectionThrottle,
					time.Duration(remaining)*time.Second); err != nil {
					return step.Result{}, fmt.Errorf("preserve: restore throttle: %w", err)
				}
				restored = append(restored, TransientThrottle)
			}
		}
	}

	if p.BrandVersionOption != "" {
		if err := set(p.BrandVersionOption, p.BrandVersion); err != nil {
			return step.Result{}, err
		}
	}

	if err := store.Set(OptComingSoon, "1"); err != nil {
		return step.Result{}, fmt.Errorf("preserve: restore %s: %w", OptComingSoon, err)
	}
	restored = append(restored, OptComingSoon)

	return step.OK(RestoredMessage).With("restored", restored), nil
}
