package config

import (
	"time"

	"github.com/gaborage/apicall/observability"
)

// Config is the root configuration of the call wrapper.
type Config struct {
	// Env selects the optional config.<env>.yaml overlay
	Env           string               `koanf:"env" json:"env" yaml:"env"`
	Log           LogConfig            `koanf:"log" json:"log" yaml:"log"`
	Client        ClientConfig         `koanf:"client" json:"client" yaml:"client"`
	Observability observability.Config `koanf:"observability" json:"observability" yaml:"observability"`
}

// LogConfig holds logging settings.
type LogConfig struct {
	Level  string `koanf:"level" json:"level" yaml:"level"`
	Pretty bool   `koanf:"pretty" json:"pretty" yaml:"pretty"`
}

// ClientConfig holds the defaults applied to every call made by a client
// built from configuration.
type ClientConfig struct {
	BaseURL string        `koanf:"baseurl" json:"baseurl" yaml:"baseurl"`
	Timeout time.Duration `koanf:"timeout" json:"timeout" yaml:"timeout"`

	// Retries is the retry budget seeded into call specs
	Retries int `koanf:"retries" json:"retries" yaml:"retries"`
	// RetryAfter is the fixed delay between attempts; zero leaves it unset
	RetryAfter    time.Duration `koanf:"retryafter" json:"retryafter" yaml:"retryafter"`
	MinRetryAfter time.Duration `koanf:"minretryafter" json:"minretryafter" yaml:"minretryafter"`
	MaxRetryAfter time.Duration `koanf:"maxretryafter" json:"maxretryafter" yaml:"maxretryafter"`
	// DoNotRetryOn accepts exact codes ("401") and classes ("5xx", "40x")
	DoNotRetryOn []string `koanf:"donotretryon" json:"donotretryon" yaml:"donotretryon"`

	Headers map[string]string `koanf:"headers" json:"headers" yaml:"headers"`
	Auth    AuthConfig        `koanf:"auth" json:"auth" yaml:"auth"`
}

// AuthConfig holds default credentials. A token takes precedence over
// user/password.
type AuthConfig struct {
	AuthorizationType string `koanf:"authorizationtype" json:"authorizationtype" yaml:"authorizationtype"`
	Token             string `koanf:"token" json:"token" yaml:"token"`
	User              string `koanf:"user" json:"user" yaml:"user"`
	Password          string `koanf:"password" json:"password" yaml:"password"`
}

// HasToken reports whether token authorization is configured.
func (a AuthConfig) HasToken() bool {
	return a.Token != ""
}

// HasBasic reports whether both basic authorization credentials are configured.
func (a AuthConfig) HasBasic() bool {
	return a.User != "" && a.Password != ""
}
