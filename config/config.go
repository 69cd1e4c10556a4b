// Package config loads the immutable startup configuration for forgekeepd
// from a YAML file, the same file-plus-flag-overrides shape as
// cmd/dex/config.go, translated from dex's Config/Web/Telemetry/Logger
// structs to this service's domain (credential store DSN, Redis endpoints,
// federated connector secrets, mail/captcha settings).
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/modrinth/forgekeep/cache"
	"github.com/modrinth/forgekeep/flow"
	"github.com/modrinth/forgekeep/mail"
)

// Config is the root configuration document.
type Config struct {
	Web       Web       `yaml:"web"`
	Telemetry Telemetry `yaml:"telemetry"`
	Logger    Logger    `yaml:"logger"`

	Storage Storage `yaml:"storage"`
	Redis   Redis   `yaml:"redis"`

	Mail    Mail    `yaml:"mail"`
	Captcha Captcha `yaml:"captcha"`

	Connectors Connectors `yaml:"connectors"`

	// EnableLegacyGitHubAuth gates the transitional raw-GitHub-token
	// bootstrap path. Defaults false.
	EnableLegacyGitHubAuth bool `yaml:"enable_legacy_github_auth"`

	// AccessTokenLifetime overrides oauthserver's default OAuth2 access
	// token lifetime, if set.
	AccessTokenLifetime time.Duration `yaml:"access_token_lifetime"`
}

type Web struct {
	HTTPAddr       string   `yaml:"http_addr"`
	AllowedOrigins []string `yaml:"allowed_origins"`
	// SiteURL is the outbound link base emailed to users for email
	// verification and password reset, e.g. "https://modrinth.com".
	SiteURL string `yaml:"site_url"`
}

type Telemetry struct {
	Addr string `yaml:"addr"`
}

type Logger struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Storage holds the Postgres DSN forgekeepd opens on startup.
type Storage struct {
	DSN string `yaml:"dsn"`
}

// Redis mirrors cache.Config/flow.Config's UniversalClient endpoint set.
type Redis struct {
	Addrs            []string `yaml:"addrs"`
	Password         string   `yaml:"password"`
	SentinelPassword string   `yaml:"sentinel_password"`
	MasterName       string   `yaml:"master_name"`
}

func (r Redis) cacheConfig() cache.Config {
	return cache.Config{Addrs: r.Addrs, Password: r.Password, SentinelPassword: r.SentinelPassword, MasterName: r.MasterName}
}

func (r Redis) flowConfig() flow.Config {
	return flow.Config{Addrs: r.Addrs, Password: r.Password, SentinelPassword: r.SentinelPassword, MasterName: r.MasterName}
}

type Mail struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
	From     string `yaml:"from"`
}

func (m Mail) mailConfig() mail.Config {
	return mail.Config{Host: m.Host, Port: m.Port, Username: m.Username, Password: m.Password, From: m.From}
}

type Captcha struct {
	TurnstileSecret string `yaml:"turnstile_secret"`
}

// Connectors holds the OAuth2 client credentials for every federated
// identity provider this module supports.
type Connectors struct {
	GitHub    ConnectorCredentials `yaml:"github"`
	Discord   ConnectorCredentials `yaml:"discord"`
	GitLab    GitLabCredentials    `yaml:"gitlab"`
	Google    ConnectorCredentials `yaml:"google"`
	Microsoft MicrosoftCredentials `yaml:"microsoft"`
	Steam     SteamCredentials     `yaml:"steam"`
	PayPal    PayPalCredentials    `yaml:"paypal"`
}

type ConnectorCredentials struct {
	ClientID     string `yaml:"client_id"`
	ClientSecret string `yaml:"client_secret"`
	RedirectURI  string `yaml:"redirect_uri"`
}

type GitLabCredentials struct {
	ConnectorCredentials `yaml:",inline"`
	BaseURL              string `yaml:"base_url"`
}

type MicrosoftCredentials struct {
	ConnectorCredentials `yaml:",inline"`
	Tenant               string `yaml:"tenant"`
	// MinecraftRedirectURI is the callback registered for the separate
	// Minecraft-linking exchange, which authenticates against
	// login.live.com rather than this connector's tenant endpoint and so
	// needs its own redirect URI on the same Azure AD app registration.
	MinecraftRedirectURI string `yaml:"minecraft_redirect_uri"`
}

type SteamCredentials struct {
	RedirectURI string `yaml:"redirect_uri"`
	APIKey      string `yaml:"api_key"`
	RealmURI    string `yaml:"realm_uri"`
}

type PayPalCredentials struct {
	ConnectorCredentials `yaml:",inline"`
	APIBaseURL           string `yaml:"api_base_url"`
	AuthBaseURL          string `yaml:"auth_base_url"`
}

// Load reads and parses the YAML config file at path.
func Load(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("config: read %s: %w", path, err)
	}
	var c Config
	if err := yaml.Unmarshal(data, &c); err != nil {
		return Config{}, fmt.Errorf("config: parse %s: %w", path, err)
	}
	return c, nil
}

// Validate applies the fast, cheap-first checks style dex's Config.Validate
// uses: collect every violation before returning, so a misconfigured
// deployment fails once with the whole list rather than one field at a
// time across repeated restarts.
func (c Config) Validate() error {
	checks := []struct {
		bad    bool
		errMsg string
	}{
		{c.Storage.DSN == "", "storage.dsn must be set"},
		{len(c.Redis.Addrs) == 0, "redis.addrs must list at least one endpoint"},
		{c.Web.HTTPAddr == "", "web.http_addr must be set"},
		{c.Web.SiteURL == "", "web.site_url must be set"},
		{c.Mail.From == "" && c.Mail.Host != "", "mail.from must be set when mail.host is configured"},
	}

	var msgs []string
	for _, c := range checks {
		if c.bad {
			msgs = append(msgs, c.errMsg)
		}
	}
	if len(msgs) == 0 {
		return nil
	}
	err := fmt.Errorf("invalid config:")
	for _, m := range msgs {
		err = fmt.Errorf("%w\n\t* %s", err, m)
	}
	return err
}

// CacheConfig returns the Redis endpoint set for package cache.
func (c Config) CacheConfig() cache.Config { return c.Redis.cacheConfig() }

// FlowConfig returns the Redis endpoint set for package flow.
func (c Config) FlowConfig() flow.Config { return c.Redis.flowConfig() }

// MailConfig returns the SMTP settings for package mail.
func (c Config) MailConfig() mail.Config { return c.Mail.mailConfig() }
