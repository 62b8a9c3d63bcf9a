// Package brand describes the hosting brand whose plugin is protected
// during a reset.
package brand

// DefaultID is used when no brand is configured.
const DefaultID = "bluehost"

// FallbackTheme is the default theme for brands without their own.
const FallbackTheme = "flavor"

var themes = map[string]string{
	"bluehost":  "bluehost-blueprint",
	"hostgator": "flavor",
}

// Brand is the active hosting brand.
type Brand struct {
	ID       string `yaml:"id" json:"id"`
	Name     string `yaml:"name" json:"name"`
	Basename string `yaml:"basename" json:"basename"`
	// Theme overrides the brand's default theme slug.
	Theme string `yaml:"theme" json:"theme,omitempty"`
}

func (b Brand) id() string {
	if b.ID == "" {
		return DefaultID
	}
	return b.ID
}

// BrandID returns the configured id or DefaultID.
func (b Brand) BrandID() string { return b.id() }

// DefaultTheme returns the slug of the theme a reset installs.
func (b Brand) DefaultTheme() string {
	if b.Theme != "" {
		return b.Theme
	}
	if t, ok := themes[b.id()]; ok {
		return t
	}
	return FallbackTheme
}

// VersionOption is the option recording the brand plugin's version.
func (b Brand) VersionOption() string { return b.id() + "_plugin_version" }

// PageSlug is the admin page slug of the reset tool.
func (b Brand) PageSlug() string { return b.id() + "-factory-reset-website" }

// Namespace is the API namespace routes are mounted under.
func (b Brand) Namespace() string { return b.id() + "/v1" }
