package config

// LoggingConfig configures logging.
type LoggingConfig struct {
	Level      string          `yaml:"level" json:"level,omitempty"`           // debug, info, warn, error
	Format     string          `yaml:"format" json:"format,omitempty"`         // json, text
	Dir        string          `yaml:"dir" json:"dir,omitempty"`               // per-category log files; empty = console only
	DebugMode  bool            `yaml:"debug_mode" json:"debug_mode,omitempty"` // forces debug level everywhere
	Categories map[string]bool `yaml:"categories" json:"categories,omitempty"` // Per-category file toggles
}

// IsCategoryEnabled returns whether file logging is enabled for a category.
// Categories not listed are enabled.
func (c *LoggingConfig) IsCategoryEnabled(category string) bool {
	if c.Dir == "" {
		return false
	}
	if c.Categories == nil {
		return true
	}
	enabled, exists := c.Categories[category]
	if !exists {
		return true
	}
	return enabled
}
