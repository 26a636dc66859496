// Package config provides configuration loading and validation for
// inetstack.
//
// Configuration is loaded with the following priority (highest to lowest):
//  1. Command-line flags (not handled here, see cmd/inetstackd/main.go)
//  2. Environment variables (INETSTACK_* prefix)
//  3. YAML config file (if specified with --config)
//  4. Hardcoded defaults
//
// All configuration is validated during Load() to ensure correctness early.
package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

// initConfig sets up the config loader with defaults, env binding, and config file.
func initConfig(configPath string) (*viper.Viper, error) {
	v := viper.New()

	setDefaults(v)

	v.SetEnvPrefix("INETSTACK")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configPath != "" {
		v.SetConfigFile(configPath)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	return v, nil
}

// setDefaults configures all default values (spec.md §6 and SPEC_FULL §A.2).
func setDefaults(v *viper.Viper) {
	v.SetDefault("local_ipv4", "")
	v.SetDefault("local_mac", "")
	v.SetDefault("default_gateway", "")
	v.SetDefault("ipv4_prefix", "")

	v.SetDefault("arp_request_timeout", "1s")
	v.SetDefault("arp_retry_count", 5)
	v.SetDefault("arp_cache_ttl", "600s")

	v.SetDefault("udp_checksum_offload", false)

	v.SetDefault("tcp_mss", 1460)
	v.SetDefault("tcp_window_scale", true)
	v.SetDefault("tcp_timestamps", true)
	v.SetDefault("tcp_sack", true)
	v.SetDefault("tcp_rx_buffer_size", 65536)
	v.SetDefault("tcp_tx_buffer_size", 65536)
	v.SetDefault("tcp_nodelay", false)

	v.SetDefault("rng_seed", "")

	v.SetDefault("runtime", "raw-socket")
	v.SetDefault("raw_socket.interface", "eth0")

	v.SetDefault("admin.enabled", false)
	v.SetDefault("admin.host", "127.0.0.1")
	v.SetDefault("admin.port", 8080)

	v.SetDefault("store.path", "")

	v.SetDefault("log.level", "INFO")
	v.SetDefault("log.structured", false)
	v.SetDefault("log.structured_format", "json")
	v.SetDefault("log.include_pid", false)
	v.SetDefault("log.extra_fields", map[string]string{})
}

// Load loads configuration from a YAML file with environment variable
// overrides. This is the main entry point for loading configuration.
func Load(path string) (*Config, error) {
	v, err := initConfig(path)
	if err != nil {
		return nil, err
	}

	cfg := &Config{
		LocalIPv4:          v.GetString("local_ipv4"),
		LocalMAC:           v.GetString("local_mac"),
		DefaultGateway:     v.GetString("default_gateway"),
		IPv4Prefix:         v.GetString("ipv4_prefix"),
		ARPRequestTimeout:  v.GetString("arp_request_timeout"),
		ARPRetryCount:      v.GetInt("arp_retry_count"),
		ARPCacheTTL:        v.GetString("arp_cache_ttl"),
		UDPChecksumOffload: v.GetBool("udp_checksum_offload"),
		TCPMSS:             v.GetInt("tcp_mss"),
		TCPWindowScale:     v.GetBool("tcp_window_scale"),
		TCPTimestamps:      v.GetBool("tcp_timestamps"),
		TCPSACK:            v.GetBool("tcp_sack"),
		TCPRxBufferSize:    v.GetInt("tcp_rx_buffer_size"),
		TCPTxBufferSize:    v.GetInt("tcp_tx_buffer_size"),
		TCPNoDelay:         v.GetBool("tcp_nodelay"),
		RNGSeed:            v.GetString("rng_seed"),
		Runtime:            v.GetString("runtime"),
		RawSocket: RawSocketConfig{
			Interface: v.GetString("raw_socket.interface"),
		},
		Admin: AdminConfig{
			Enabled: v.GetBool("admin.enabled"),
			Host:    v.GetString("admin.host"),
			Port:    v.GetInt("admin.port"),
		},
		Store: StoreConfig{
			Path: v.GetString("store.path"),
		},
		Log: LoggingConfig{
			Level:            strings.ToUpper(v.GetString("log.level")),
			Structured:       v.GetBool("log.structured"),
			StructuredFormat: v.GetString("log.structured_format"),
			IncludePID:       v.GetBool("log.include_pid"),
			ExtraFields:      v.GetStringMapString("log.extra_fields"),
		},
	}

	if err := normalizeConfig(cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

// normalizeConfig validates and fills in values Load can't default on its
// own (i.e. those required for the stack to have an identity at all).
func normalizeConfig(cfg *Config) error {
	if strings.TrimSpace(cfg.LocalIPv4) == "" {
		return errors.New("local_ipv4 is required")
	}
	if strings.TrimSpace(cfg.LocalMAC) == "" {
		return errors.New("local_mac is required")
	}
	if strings.TrimSpace(cfg.IPv4Prefix) == "" {
		return errors.New("ipv4_prefix is required")
	}
	if cfg.Runtime != "raw-socket" && cfg.Runtime != "virtual-test" {
		return fmt.Errorf("runtime must be raw-socket or virtual-test, got %q", cfg.Runtime)
	}
	if cfg.Runtime == "raw-socket" && strings.TrimSpace(cfg.RawSocket.Interface) == "" {
		return errors.New("raw_socket.interface is required when runtime=raw-socket")
	}
	if cfg.TCPMSS <= 0 {
		cfg.TCPMSS = 1460
	}
	if cfg.ARPRetryCount <= 0 {
		cfg.ARPRetryCount = 5
	}
	if cfg.Admin.Enabled && (cfg.Admin.Port <= 0 || cfg.Admin.Port > 65535) {
		return errors.New("admin.port must be 1..65535")
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = "INFO"
	}
	if cfg.Log.StructuredFormat == "" {
		cfg.Log.StructuredFormat = "json"
	}
	if cfg.Log.ExtraFields == nil {
		cfg.Log.ExtraFields = map[string]string{}
	}
	return nil
}
