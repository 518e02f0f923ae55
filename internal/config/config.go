package config

import (
	"encoding/json"
	"os"
	"time"
)

// Create new config instance
func NewConfig() *Config {
	return &Config{}
}

// Load configuration file in json format
func (c *Config) Read(file string) error {
	data, err := os.ReadFile(file)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(data, c); err != nil {
		return err
	}
	c.applyDefaults()
	return nil
}

func (c *Config) applyDefaults() {
	w := &c.Worker
	if w.Stream == "" {
		w.Stream = "images"
	}
	if w.Group == "" {
		w.Group = "photo-workers"
	}
	if w.Consumer == "" {
		host, _ := os.Hostname()
		if host == "" {
			host = "worker"
		}
		w.Consumer = host
	}
	if w.Workers <= 0 {
		w.Workers = 1
	}
	if w.MaxAttempts <= 0 {
		w.MaxAttempts = 5
	}
	if w.BackoffBase <= 0 {
		w.BackoffBase = 500 * time.Millisecond
	}
	if w.BlockTimeout <= 0 {
		w.BlockTimeout = 5 * time.Second
	}
	if len(w.Sizes) == 0 {
		w.Sizes = []int{128, 256, 640, 1024}
	}
	if w.MaxSourceBytes <= 0 {
		w.MaxSourceBytes = 32 << 20
	}
}
