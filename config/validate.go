package config

import (
	"strings"

	"github.com/teranos/strata/errors"
)

// Validate checks that the configuration is valid
func (c *Config) Validate() error {
	if strings.TrimSpace(c.Store.Path) == "" {
		return errors.New("store.path cannot be empty")
	}

	// Workers: 0 = goroutine per transaction, negative = invalid
	if c.Transactions.Workers < 0 {
		return errors.Newf("transactions.workers must be >= 0, got %d", c.Transactions.Workers)
	}

	if c.Main.QueueSize < 0 {
		return errors.Newf("main.queue_size must be >= 0, got %d", c.Main.QueueSize)
	}

	for key := range c.Store.Options {
		if !isPragmaName(key) {
			return errors.WithHint(
				errors.Newf("store.options key %q is not a valid pragma name", key),
				"use plain SQLite pragma names such as journal_mode or synchronous",
			)
		}
	}

	return nil
}

func isPragmaName(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if !(r == '_' || (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9')) {
			return false
		}
	}
	return true
}
