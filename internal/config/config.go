// Package config loads and holds all gateway configuration.
// Settings are layered: defaults → policy-gateway.json → environment variables
// (env vars win). This package only bootstraps the process; it does not
// interpret policy documents — that is the policy package's job, given
// whichever file path this config points it at.
package config

import (
	"encoding/json"
	"log"
	"os"
	"strconv"
)

// Config holds the full gateway configuration.
type Config struct {
	ProxyPort      int    `json:"proxyPort"`
	ManagementPort int    `json:"managementPort"`
	BindAddress    string `json:"bindAddress"`
	LogLevel       string `json:"logLevel"`

	// TokenBackend selects the TokenMap backend: "memory" or "redis".
	TokenBackend    string `json:"tokenBackend"`
	RedisAddr       string `json:"redisAddr"`
	RedisPassword   string `json:"redisPassword"`
	RedisDB         int    `json:"redisDB"`
	EncryptionPass  string `json:"encryptionPassphrase"` // PBKDF2 input for the AES-256-GCM key
	TokenMapTTLSecs int    `json:"tokenMapTTLSeconds"`
	MemoryCacheFile string `json:"memoryCacheFile"` // optional bbolt write-behind mirror; empty disables it
	MaxHandles      int    `json:"maxHandles"`      // S3-FIFO bound on resident in-memory handles

	ProcessSecret   string `json:"processSecret"` // root HMAC key for scope-salt derivation
	ManagementToken string `json:"managementToken"`

	PolicyFile          string   `json:"policyFile"`
	TrustedCallers      []string `json:"trustedCallers"`
	InternalProxyCaller string   `json:"internalProxyCaller"` // caller pre-authorized to detokenize

	MaxPayloadKB           int `json:"maxPayloadKB"`
	UpstreamTimeoutSeconds int `json:"upstreamTimeoutSeconds"`

	AuditLogFile string `json:"auditLogFile"`
	AuditTailCap int    `json:"auditTailCap"`

	PostVerifyEnabled bool `json:"postVerifyEnabled"`

	ProviderBaseURLs map[string]string `json:"providerBaseURLs"`
}

// Load returns config with defaults overridden by policy-gateway.json and env vars.
func Load() *Config {
	cfg := defaults()
	loadFile(cfg, "policy-gateway.json")
	loadEnv(cfg)
	return cfg
}

func defaults() *Config {
	return &Config{
		ProxyPort:      8080,
		ManagementPort: 8081,
		BindAddress:    "127.0.0.1",
		LogLevel:       "info",

		TokenBackend:    "memory",
		RedisAddr:       "localhost:6379",
		RedisDB:         0,
		TokenMapTTLSecs: 4 * 3600,
		MemoryCacheFile: "",
		MaxHandles:      50_000,

		ManagementToken: "",

		PolicyFile:          "policy.yaml",
		TrustedCallers:      []string{},
		InternalProxyCaller: "internal-proxy",

		MaxPayloadKB:           512,
		UpstreamTimeoutSeconds: 120,

		AuditLogFile: "audit.jsonl",
		AuditTailCap: 1000,

		PostVerifyEnabled: true,

		ProviderBaseURLs: map[string]string{
			"openai": "https://api.openai.com",
			"claude": "https://api.anthropic.com",
			"gemini": "https://generativelanguage.googleapis.com",
		},
	}
}

func loadFile(cfg *Config, path string) {
	data, err := os.ReadFile(path) //nolint:gosec // G703: path is a controlled config file path, not user input
	if err != nil {
		return // file is optional
	}
	if err := json.Unmarshal(data, cfg); err != nil {
		log.Printf("[CONFIG] Warning: could not parse %s: %v", path, err)
	} else {
		log.Printf("[CONFIG] Loaded %s", path)
	}
}

func loadEnv(cfg *Config) {
	if v := os.Getenv("PROXY_PORT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.ProxyPort = n
		}
	}
	if v := os.Getenv("MANAGEMENT_PORT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.ManagementPort = n
		}
	}
	if v := os.Getenv("BIND_ADDRESS"); v != "" {
		cfg.BindAddress = v
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}
	if v := os.Getenv("TOKEN_BACKEND"); v != "" {
		cfg.TokenBackend = v
	}
	if v := os.Getenv("REDIS_ADDR"); v != "" {
		cfg.RedisAddr = v
	}
	if v := os.Getenv("REDIS_PASSWORD"); v != "" {
		cfg.RedisPassword = v
	}
	if v := os.Getenv("REDIS_DB"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.RedisDB = n
		}
	}
	if v := os.Getenv("ENCRYPTION_PASSPHRASE"); v != "" {
		cfg.EncryptionPass = v
	}
	if v := os.Getenv("TOKEN_MAP_TTL_SECONDS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.TokenMapTTLSecs = n
		}
	}
	if v := os.Getenv("MEMORY_CACHE_FILE"); v != "" {
		cfg.MemoryCacheFile = v
	}
	if v := os.Getenv("MAX_HANDLES"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.MaxHandles = n
		}
	}
	if v := os.Getenv("PROCESS_SECRET"); v != "" {
		cfg.ProcessSecret = v
	}
	if v := os.Getenv("MANAGEMENT_TOKEN"); v != "" {
		cfg.ManagementToken = v
	}
	if v := os.Getenv("POLICY_FILE"); v != "" {
		cfg.PolicyFile = v
	}
	if v := os.Getenv("MAX_PAYLOAD_KB"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.MaxPayloadKB = n
		}
	}
	if v := os.Getenv("UPSTREAM_TIMEOUT_SECONDS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.UpstreamTimeoutSeconds = n
		}
	}
	if v := os.Getenv("AUDIT_LOG_FILE"); v != "" {
		cfg.AuditLogFile = v
	}
	if v := os.Getenv("POST_VERIFY_ENABLED"); v == "false" {
		cfg.PostVerifyEnabled = false
	}
}
