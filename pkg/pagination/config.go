package pagination

import (
	"fmt"
	"os"
	"strconv"
)

const (
	EnvDefaultPageSize = "LIBRARY_PAGE_SIZE"
	EnvMaxPageSize     = "LIBRARY_MAX_PAGE_SIZE"
)

// Config holds default and maximum page sizes.
type Config struct {
	DefaultPageSize int `yaml:"defaultPageSize"`
	MaxPageSize     int `yaml:"maxPageSize"`
}

// Finalize applies defaults and environment overrides, then validates.
func (c *Config) Finalize() error {
	if c.DefaultPageSize <= 0 {
		c.DefaultPageSize = 20
	}
	if c.MaxPageSize <= 0 {
		c.MaxPageSize = 100
	}
	if v := os.Getenv(EnvDefaultPageSize); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.DefaultPageSize = n
		}
	}
	if v := os.Getenv(EnvMaxPageSize); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.MaxPageSize = n
		}
	}
	if c.DefaultPageSize < 1 {
		return fmt.Errorf("pagination: defaultPageSize must be positive")
	}
	if c.MaxPageSize < 1 {
		return fmt.Errorf("pagination: maxPageSize must be positive")
	}
	if c.DefaultPageSize > c.MaxPageSize {
		return fmt.Errorf("pagination: defaultPageSize cannot exceed maxPageSize")
	}
	return nil
}
