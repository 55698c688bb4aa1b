package oauthd

import (
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/confmap"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"

	"github.com/dpup/oauthd/internal/config"
)

// Filename of the standard configuration file.
const ConfigFile = "oauthd.yaml"

// ConfigKeyInfo contains metadata about a known configuration key.
// This is re-exported from internal/config for public API use.
type ConfigKeyInfo = config.ConfigKeyInfo

// Config is a global koanf instance used to access application level
// configuration options.
//
// Config is loaded in the following order (later sources override earlier):
// 1. Built-in defaults (in init())
// 2. Auto-discovered oauthd.yaml (in init())
// 3. Environment variables with OD__ prefix (in init())
// 4. Additional sources loaded via LoadConfigFile() or LoadConfigDefaults()
//
// Environment variable transformation:
//   - OD__OAUTH__ISSUER → oauth.issuer
//   - OD__OAUTH__ACCESS_TOKEN_LIFETIME → oauth.accessTokenLifetime (underscores become camelCase)
var Config = koanf.New(".")

func init() {
	registerCoreConfigKeys()

	// Look for an oauthd.yaml file in the current directory or any parent.
	if cfg := config.SearchForConfig(ConfigFile, "."); cfg != "" {
		if err := Config.Load(file.Provider(cfg), yaml.Parser()); err != nil {
			panic("error loading config: " + err.Error())
		}
	}

	// Load environment variables with the prefix OD__.
	if err := Config.Load(env.Provider("OD__", ".", config.TransformEnv), nil); err != nil {
		panic("error loading env config: " + err.Error())
	}
}

// RegisterConfigKey registers a known configuration key with metadata.
// This should be called by applications to document expected config keys.
//
// Example:
//
//	oauthd.RegisterConfigKey(oauthd.ConfigKeyInfo{
//	    Key:         "myapp.apiKey",
//	    Description: "Key used for the upstream API",
//	    Type:        "string",
//	})
func RegisterConfigKey(info ConfigKeyInfo) {
	config.RegisterConfigKey(info)
}

// RegisterConfigKeys registers multiple configuration keys at once.
func RegisterConfigKeys(infos ...ConfigKeyInfo) {
	config.RegisterConfigKeys(infos...)
}

// RegisterDeprecatedKey registers a deprecated configuration key and its
// replacement.
func RegisterDeprecatedKey(oldKey, newKey string) {
	config.RegisterDeprecatedKey(oldKey, newKey)
}

// LoadConfigFile loads additional configuration from a YAML file into the
// global Config instance. Call this before creating the server.
func LoadConfigFile(path string) {
	if err := Config.Load(file.Provider(path), yaml.Parser()); err != nil {
		panic("error loading config file '" + path + "': " + err.Error())
	}
}

// LoadConfigDefaults loads default configuration values into the global
// Config instance. Call this before creating the server to provide
// application-specific defaults that can be overridden by files or env vars.
func LoadConfigDefaults(defaults map[string]interface{}) {
	if err := Config.Load(confmap.Provider(defaults, "."), nil); err != nil {
		panic("error loading config defaults: " + err.Error())
	}
}

// Configuration Access Functions
//
// These functions provide a clean API for accessing configuration values.
// They delegate to the underlying Config instance.

// ConfigString returns the string value for the given key.
func ConfigString(key string) string {
	return Config.String(key)
}

// ConfigInt returns the int value for the given key.
func ConfigInt(key string) int {
	return Config.Int(key)
}

// ConfigBool returns the bool value for the given key.
func ConfigBool(key string) bool {
	return Config.Bool(key)
}

// ConfigDuration returns the duration value for the given key.
// Duration strings like "5m", "1h", "30s" are parsed automatically.
func ConfigDuration(key string) time.Duration {
	return Config.Duration(key)
}

// ConfigStrings returns the string slice value for the given key.
func ConfigStrings(key string) []string {
	return Config.Strings(key)
}

// ConfigBytes returns the byte slice value for the given key.
func ConfigBytes(key string) []byte {
	return Config.Bytes(key)
}

// ConfigExists checks if the given key exists in the configuration.
func ConfigExists(key string) bool {
	return Config.Exists(key)
}

// ConfigAll returns all configuration as a map.
func ConfigAll() map[string]interface{} {
	return Config.All()
}

func registerCoreConfigKeys() {
	config.RegisterConfigKeys(
		ConfigKeyInfo{
			Key:         "oauth.issuer",
			Description: "Issuer identifier included in token metadata and JWT claims",
			Type:        "string",
			Default:     "oauthd",
		},
		ConfigKeyInfo{
			Key:         "oauth.accessTokenLifetime",
			Description: "Default lifetime for access tokens",
			Type:        "duration",
			Default:     "1h",
		},
		ConfigKeyInfo{
			Key:         "oauth.refreshTokenLifetime",
			Description: "Default lifetime for refresh tokens",
			Type:        "duration",
			Default:     "168h",
		},
		ConfigKeyInfo{
			Key:         "oauth.authCodeLifetime",
			Description: "Lifetime for authorization codes",
			Type:        "duration",
			Default:     "10m",
		},
		ConfigKeyInfo{
			Key:         "oauth.scopeRequired",
			Description: "Reject token requests that omit scope entirely",
			Type:        "bool",
			Default:     false,
		},
		ConfigKeyInfo{
			Key:         "oauth.requiredScope",
			Description: "Scope token every bearer must carry to pass the auth middleware",
			Type:        "string",
		},
		ConfigKeyInfo{
			Key:         "oauth.allowBearerInQueryString",
			Description: "Accept bearer tokens via the access_token query parameter",
			Type:        "bool",
			Default:     false,
		},
		ConfigKeyInfo{
			Key:         "oauth.clientCredentialsRefresh",
			Description: "Issue refresh tokens on client_credentials grants",
			Type:        "bool",
			Default:     false,
		},
		ConfigKeyInfo{
			Key:         "oauth.tokenFormat",
			Description: "Access token format, 'opaque' or 'jwt'",
			Type:        "string",
			Default:     "opaque",
		},
		ConfigKeyInfo{
			Key:         "oauth.jwt.signingKey",
			Description: "HMAC key used to sign JWT access tokens",
			Type:        "string",
		},
	)
}
