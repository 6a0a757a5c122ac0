package paygate

import (
	"github.com/caarlos0/env/v11"
	goerrors "github.com/goliatone/go-errors"
)

// EnvConfig is the environment-backed Config implementation.
type EnvConfig struct {
	SigningKey      string   `env:"PAYGATE_SIGNING_KEY"`
	TokenExpiration int      `env:"PAYGATE_TOKEN_EXPIRATION" envDefault:"168"`
	Issuer          string   `env:"PAYGATE_ISSUER"`
	Audience        []string `env:"PAYGATE_AUDIENCE" envSeparator:","`
}

var _ Config = (*EnvConfig)(nil)

// NewEnvConfig loads configuration from the environment. It fails fast when
// the signing key is absent; a process without a key must not start.
func NewEnvConfig() (*EnvConfig, error) {
	cfg := &EnvConfig{}
	if err := env.Parse(cfg); err != nil {
		return nil, goerrors.Wrap(err, goerrors.CategoryOperation, "failed to parse environment config")
	}

	if cfg.SigningKey == "" {
		return nil, ErrMissingSigningKey
	}

	return cfg, nil
}

func (c *EnvConfig) GetSigningKey() string {
	return c.SigningKey
}

func (c *EnvConfig) GetTokenExpiration() int {
	return c.TokenExpiration
}

func (c *EnvConfig) GetIssuer() string {
	return c.Issuer
}

func (c *EnvConfig) GetAudience() []string {
	return c.Audience
}
