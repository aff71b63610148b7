package opcua

import (
	"errors"
	"time"
)

// Config captures the runtime details required to open an OPC UA session.
type Config struct {
	Endpoint         string          `yaml:"endpoint"`
	Username         string          `yaml:"username"`
	Password         string          `yaml:"password"`
	SecurityMode     string          `yaml:"security_mode"`
	SecurityPolicy   string          `yaml:"security_policy"`
	ApplicationName  string          `yaml:"application_name"`
	PublishInterval  time.Duration   `yaml:"publish_interval"`
	SamplingInterval time.Duration   `yaml:"sampling_interval"`
	Channels         []ChannelConfig `yaml:"channels"`
}

// ChannelConfig maps one boolean node onto a logic channel.
type ChannelConfig struct {
	NodeID string `yaml:"node_id"`
	Name   string `yaml:"name"`
}

func (c *Config) ApplyDefaults() {
	if c.SecurityMode == "" {
		c.SecurityMode = "None"
	}
	if c.SecurityPolicy == "" {
		c.SecurityPolicy = "None"
	}
	if c.ApplicationName == "" {
		c.ApplicationName = "sigrok capture"
	}
	if c.PublishInterval <= 0 {
		c.PublishInterval = 100 * time.Millisecond
	}
	if c.SamplingInterval < 0 {
		c.SamplingInterval = 0
	}
	for i := range c.Channels {
		if c.Channels[i].Name == "" {
			c.Channels[i].Name = c.Channels[i].NodeID
		}
	}
}

func (c *Config) Validate() error {
	if c.Endpoint == "" {
		return errors.New("endpoint is required")
	}
	if len(c.Channels) == 0 {
		return errors.New("at least one channel node must be configured")
	}
	if len(c.Channels) > 64 {
		return errors.New("at most 64 channel nodes are supported")
	}
	return nil
}
