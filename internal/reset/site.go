package reset

import "path/filepath"

// Dropins are files in the content root that the platform loads before any
// plugin activation logic runs.
var Dropins = []string{
	"advanced-cache.php",
	"db.php",
	"db-error.php",
	"install.php",
	"maintenance.php",
	"object-cache.php",
	"php-error.php",
	"fatal-error-handler.php",
	"sunrise.php",
}

// ContentAllowList names the content root entries clean_wp_content keeps.
var ContentAllowList = []string{"plugins", "themes", "mu-plugins", "uploads", "index.php"}

// Site is the on-disk layout of the site being reset.
type Site struct {
	Root string
	// ContentDir defaults to <Root>/wp-content.
	ContentDir string
	// MUPluginsDir defaults to <ContentDir>/mu-plugins.
	MUPluginsDir string
	// UploadsDir defaults to <ContentDir>/uploads.
	UploadsDir string
	Multisite  bool
}

func (s Site) Content() string {
	if s.ContentDir != "" {
		return s.ContentDir
	}
	return filepath.Join(s.Root, "wp-content")
}

func (s Site) Plugins() string { return filepath.Join(s.Content(), "plugins") }
func (s Site) Themes() string  { return filepath.Join(s.Content(), "themes") }

func (s Site) MUPlugins() string {
	if s.MUPluginsDir != "" {
		return s.MUPluginsDir
	}
	return filepath.Join(s.Content(), "mu-plugins")
}

func (s Site) Uploads() string {
	if s.UploadsDir != "" {
		return s.UploadsDir
	}
	return filepath.Join(s.Content(), "uploads")
}
