// Package config loads the gateway configuration: defaults, then an optional
// YAML file, then environment variables (a .env file is honored).
package config

import (
	"os"
	"strings"

	"PPChat/tools/errs"

	"github.com/google/uuid"
	"github.com/joho/godotenv"
	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

var Global = Default()

var envOverrides = []struct {
	key   string
	apply func(c *AppConfig, v string)
}{
	{"GATEWAY_ID", func(c *AppConfig, v string) { c.NodeID = v }},
	{"HTTP_ADDR", func(c *AppConfig, v string) { c.HTTP.Addr = v }},
	{"GRPC_ADDR", func(c *AppConfig, v string) { c.GRPC.Addr = v }},
	{"DATABASE_URL", func(c *AppConfig, v string) { c.Postgres.DSN = v }},
	{"REDIS_ADDR", func(c *AppConfig, v string) { c.Redis.Addr = v; c.Redis.Enabled = true }},
	{"REDIS_PASSWORD", func(c *AppConfig, v string) { c.Redis.Password = v }},
	{"NATS_URL", func(c *AppConfig, v string) { c.NATS.Servers = splitList(v); c.NATS.Enabled = true }},
	{"JWT_SECRET", func(c *AppConfig, v string) { c.JWT.Secret = v }},
	{"LOG_LEVEL", func(c *AppConfig, v string) { c.Log.Level = v }},
}

// Load builds the configuration and stores it in Global. path may be empty.
func Load(path string) (*AppConfig, error) {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		return nil, errors.Wrap(err, "load .env")
	}

	c := Default()
	if path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return nil, errors.Wrapf(err, "read config %s", path)
		}
		if err := yaml.Unmarshal(raw, &c); err != nil {
			return nil, errors.Wrapf(err, "parse config %s", path)
		}
	}
	for _, o := range envOverrides {
		if v, ok := os.LookupEnv(o.key); ok && strings.TrimSpace(v) != "" {
			o.apply(&c, strings.TrimSpace(v))
		}
	}
	if c.NodeID == "" {
		c.NodeID = "gw-" + uuid.NewString()
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	Global = c
	return &c, nil
}

func (c *AppConfig) Validate() error {
	if c.JWT.Secret == "" {
		return errs.ErrInternal.WrapMsg("jwt secret is required (JWT_SECRET)")
	}
	if c.HTTP.Addr == "" {
		return errs.ErrInternal.WrapMsg("http addr is required")
	}
	if c.NATS.Enabled && len(c.NATS.Servers) == 0 {
		return errs.ErrInternal.WrapMsg("nats enabled without servers")
	}
	return nil
}

func splitList(v string) []string {
	var out []string
	for _, s := range strings.Split(v, ",") {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}
