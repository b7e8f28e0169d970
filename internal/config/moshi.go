package config

import (
	"context"
	"fmt"

	"github.com/glizzus/moshi-cli/internal/transport"
	"github.com/sethvargo/go-envconfig"
)

type MoshiConfig struct {
	Host         string `env:"MOSHI_HOST"`
	DeploymentID string `env:"MOSHI_DEPLOYMENT_ID"`
	Region       string `env:"MOSHI_REGION, default=fr-srr"`
	APIKey       string `env:"MOSHI_API_KEY"`
	Insecure     bool   `env:"MOSHI_INSECURE"`

	AudioTopK        int     `env:"MOSHI_AUDIO_TOPK, default=250"`
	AudioTemperature float64 `env:"MOSHI_AUDIO_TEMPERATURE, default=0.8"`
	TextTopK         int     `env:"MOSHI_TEXT_TOPK, default=25"`
	TextTemperature  float64 `env:"MOSHI_TEXT_TEMPERATURE, default=0.7"`

	Output string `env:"MOSHI_OUTPUT, default=received.wav"`
}

func NewMoshiConfigFromEnv() (*MoshiConfig, error) {
	return NewMoshiConfig(context.Background(), nil)
}

// NewMoshiConfig reads the config from l. It does not validate the target so
// that command line flags can still fill it in.
func NewMoshiConfig(ctx context.Context, l envconfig.Lookuper) (*MoshiConfig, error) {
	var cfg MoshiConfig
	if err := process(ctx, &cfg, l); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks that a service can be located.
func (c *MoshiConfig) Validate() error {
	if c.Host == "" && c.DeploymentID == "" {
		return fmt.Errorf("either MOSHI_HOST or MOSHI_DEPLOYMENT_ID must be set")
	}
	if c.AudioTopK <= 0 || c.TextTopK <= 0 {
		return fmt.Errorf("top-k values must be positive, got audio=%d text=%d", c.AudioTopK, c.TextTopK)
	}
	if c.AudioTemperature < 0 || c.TextTemperature < 0 {
		return fmt.Errorf("temperatures must not be negative, got audio=%g text=%g", c.AudioTemperature, c.TextTemperature)
	}
	return nil
}

func (c *MoshiConfig) Target() transport.Target {
	return transport.Target{
		Host:         c.Host,
		DeploymentID: c.DeploymentID,
		Region:       c.Region,
	}
}

func (c *MoshiConfig) Params() transport.Params {
	return transport.Params{
		AudioTopK:        c.AudioTopK,
		AudioTemperature: c.AudioTemperature,
		TextTopK:         c.TextTopK,
		TextTemperature:  c.TextTemperature,
	}
}

func (c *MoshiConfig) Options() transport.Options {
	return transport.Options{
		APIKey:   c.APIKey,
		Insecure: c.Insecure,
	}
}
