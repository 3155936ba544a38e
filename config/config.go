// Package config defines the single resolved configuration surface
// (§6) the core consumes. Mirroring coreengine/config.CoreConfig's
// package doc ("Phase 4 Centralization: os.Getenv removed from
// core_engine. Environment parsing happens in mission_system/bootstrap"),
// this package never calls os.Getenv or reads files -- it only defines
// the resolved shape and its defaults. Loading (env > file > defaults)
// is the excluded bootstrap concern; cmd/mcprun is the thin entrypoint
// that would do it.
package config

// ServerConfig is the `server.*` configuration group.
type ServerConfig struct {
	Name              string `yaml:"name"`
	Version           string `yaml:"version"`
	ShutdownTimeoutMs int    `yaml:"shutdownTimeoutMs"`
}

// AdminPolicyConfig is the `tools.adminPolicy.*` configuration group.
type AdminPolicyConfig struct {
	Mode        string `yaml:"mode"` // deny_all | local_stdio_only | token
	TokenEnvVar string `yaml:"tokenEnvVar,omitempty"`
}

// ToolsConfig is the `tools.*` configuration group.
type ToolsConfig struct {
	DefaultTimeoutMs         int               `yaml:"defaultTimeoutMs"`
	MaxPayloadBytes          int               `yaml:"maxPayloadBytes"`
	MaxStateBytes            int               `yaml:"maxStateBytes"`
	AdminRegistrationEnabled bool              `yaml:"adminRegistrationEnabled"`
	AdminPolicy              AdminPolicyConfig `yaml:"adminPolicy"`
}

// ResourcesConfig is the `resources.*` configuration group.
type ResourcesConfig struct {
	MaxConcurrentExecutions int `yaml:"maxConcurrentExecutions"`
}

// LoggingConfig is the `logging.*` configuration group.
type LoggingConfig struct {
	Level      string   `yaml:"level"`
	RedactKeys []string `yaml:"redactKeys"`
}

// SecurityConfig is the `security.*` configuration group.
type SecurityConfig struct {
	DynamicRegistrationEnabled bool `yaml:"dynamicRegistrationEnabled"`
}

// AACPConfig is the `aacp.*` configuration group.
type AACPConfig struct {
	DefaultTTLMs int `yaml:"defaultTtlMs"`
}

// Config is the single resolved configuration value the core consumes,
// exactly mirroring coreengine/config.DefaultCoreConfig()'s shape but
// scoped to this module's §6 configuration surface.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Tools     ToolsConfig     `yaml:"tools"`
	Resources ResourcesConfig `yaml:"resources"`
	Logging   LoggingConfig   `yaml:"logging"`
	Security  SecurityConfig  `yaml:"security"`
	AACP      AACPConfig      `yaml:"aacp"`
}

// Default returns the configuration's built-in defaults -- used by
// cmd/mcprun directly (flag overrides layer on top) and by tests that
// don't exercise the excluded loading path.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Name:              "mcp-runtime",
			Version:           "0.1.0",
			ShutdownTimeoutMs: 5000,
		},
		Tools: ToolsConfig{
			DefaultTimeoutMs:         30000,
			MaxPayloadBytes:          1 << 20,
			MaxStateBytes:            64 * 1024,
			AdminRegistrationEnabled: false,
			AdminPolicy: AdminPolicyConfig{
				Mode: "deny_all",
			},
		},
		Resources: ResourcesConfig{
			MaxConcurrentExecutions: 32,
		},
		Logging: LoggingConfig{
			Level:      "info",
			RedactKeys: []string{"token", "key", "secret", "password", "apiKey", "authorization", "bearer", "session", "cookie"},
		},
		Security: SecurityConfig{
			DynamicRegistrationEnabled: false,
		},
		AACP: AACPConfig{
			DefaultTTLMs: 0,
		},
	}
}

// DynamicRegistrationAllowed implements §6's conjunction rule: dynamic
// registration is only effective when both adminRegistrationEnabled and
// security.dynamicRegistrationEnabled are true.
func (c *Config) DynamicRegistrationAllowed() bool {
	return c.Tools.AdminRegistrationEnabled && c.Security.DynamicRegistrationEnabled
}
