package config

import "time"

const (
	envPrefix   = "SPACE_SYMPHONY_"
	appIDVar    = envPrefix + "APP_ID"
	clientIDVar = envPrefix + "CLIENT_ID"
)

// EnvVars holds the raw environment values.
type EnvVars struct {
	AppID           string        `env:"SPACE_SYMPHONY_APP_ID"           envDefault:"space.symphony"`
	AppName         string        `env:"SPACE_SYMPHONY_APP_NAME"         envDefault:"Space Symphony"`
	ClientID        string        `env:"SPACE_SYMPHONY_CLIENT_ID"`
	ClientSecret    string        `env:"SPACE_SYMPHONY_CLIENT_SECRET"`
	AuthURL         string        `env:"SPACE_SYMPHONY_AUTH_URL"         envDefault:"https://accounts.spotify.com/authorize"`
	TokenURL        string        `env:"SPACE_SYMPHONY_TOKEN_URL"        envDefault:"https://accounts.spotify.com/api/token"`
	Issuer          string        `env:"SPACE_SYMPHONY_ISSUER"`
	RedirectURI     string        `env:"SPACE_SYMPHONY_REDIRECT_URI"     envDefault:"http://127.0.0.1:8088/success"`
	Scopes          []string      `env:"SPACE_SYMPHONY_SCOPES"           envDefault:"user-read-recently-played" envSeparator:","`
	CallbackTimeout time.Duration `env:"SPACE_SYMPHONY_CALLBACK_TIMEOUT" envDefault:"120s"`
	HTTPTimeout     time.Duration `env:"SPACE_SYMPHONY_HTTP_TIMEOUT"     envDefault:"30s"`
	Store           string        `env:"SPACE_SYMPHONY_STORE"            envDefault:"file"`
	DataDir         string        `env:"SPACE_SYMPHONY_DATA_DIR"`
	LogLevel        string        `env:"SPACE_SYMPHONY_LOG_LEVEL"        envDefault:"info"`
}

var _ AppConfig = EnvVars{}
var _ StoreConfig = EnvVars{}
var _ LogConfig = EnvVars{}

func (e EnvVars) GetAppID() string {
	return e.AppID
}

func (e EnvVars) GetAppName() string {
	return e.AppName
}

func (e EnvVars) GetStoreBackend() StoreBackend {
	return StoreBackend(e.Store)
}

func (e EnvVars) GetDataDir() string {
	return e.DataDir
}

func (e EnvVars) GetLogLevel() string {
	return e.LogLevel
}
