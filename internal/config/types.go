// Package config provides configuration loading for inetstack using Viper.
// Configuration is loaded from YAML files with automatic environment
// variable binding.
//
// Environment variables use the INETSTACK_ prefix and underscore-separated
// keys:
//   - INETSTACK_LOCAL_IPV4       -> local_ipv4
//   - INETSTACK_TCP_MSS          -> tcp_mss
//   - INETSTACK_RUNTIME          -> runtime
//   - INETSTACK_ADMIN_ENABLED    -> admin.enabled
package config

// Config is the root configuration structure (spec.md §6's enumerated
// configuration keys, plus SPEC_FULL §A.2's runtime/admin/store additions).
type Config struct {
	LocalIPv4      string `yaml:"local_ipv4"       mapstructure:"local_ipv4"`
	LocalMAC       string `yaml:"local_mac"        mapstructure:"local_mac"`
	DefaultGateway string `yaml:"default_gateway"  mapstructure:"default_gateway"`
	IPv4Prefix     string `yaml:"ipv4_prefix"      mapstructure:"ipv4_prefix"`

	ARPRequestTimeout string `yaml:"arp_request_timeout" mapstructure:"arp_request_timeout"`
	ARPRetryCount     int    `yaml:"arp_retry_count"     mapstructure:"arp_retry_count"`
	ARPCacheTTL       string `yaml:"arp_cache_ttl"       mapstructure:"arp_cache_ttl"`

	UDPChecksumOffload bool `yaml:"udp_checksum_offload" mapstructure:"udp_checksum_offload"`

	TCPMSS           int  `yaml:"tcp_mss"            mapstructure:"tcp_mss"`
	TCPWindowScale    bool `yaml:"tcp_window_scale"   mapstructure:"tcp_window_scale"`
	TCPTimestamps    bool `yaml:"tcp_timestamps"     mapstructure:"tcp_timestamps"`
	TCPSACK          bool `yaml:"tcp_sack"           mapstructure:"tcp_sack"`
	TCPRxBufferSize  int  `yaml:"tcp_rx_buffer_size" mapstructure:"tcp_rx_buffer_size"`
	TCPTxBufferSize  int  `yaml:"tcp_tx_buffer_size" mapstructure:"tcp_tx_buffer_size"`
	TCPNoDelay       bool `yaml:"tcp_nodelay"        mapstructure:"tcp_nodelay"`

	RNGSeed string `yaml:"rng_seed" mapstructure:"rng_seed"`

	Runtime    string           `yaml:"runtime"    mapstructure:"runtime"`
	RawSocket  RawSocketConfig  `yaml:"raw_socket" mapstructure:"raw_socket"`
	Admin      AdminConfig      `yaml:"admin"      mapstructure:"admin"`
	Store      StoreConfig      `yaml:"store"      mapstructure:"store"`
	Log        LoggingConfig    `yaml:"log"        mapstructure:"log"`
}

// RawSocketConfig selects the interface the AF_PACKET runtime binds to.
type RawSocketConfig struct {
	Interface string `yaml:"interface" mapstructure:"interface"`
}

// AdminConfig controls the optional read-only stats/health HTTP API.
type AdminConfig struct {
	Enabled bool   `yaml:"enabled" mapstructure:"enabled"`
	Host    string `yaml:"host"    mapstructure:"host"`
	Port    int    `yaml:"port"    mapstructure:"port"`
}

// StoreConfig points at the optional sqlite connection-history log.
// Path == "" disables the store entirely.
type StoreConfig struct {
	Path string `yaml:"path" mapstructure:"path"`
}

// LoggingConfig mirrors internal/logging.Config's fields for YAML/env
// configurability.
type LoggingConfig struct {
	Level            string            `yaml:"level"             mapstructure:"level"`
	Structured       bool              `yaml:"structured"        mapstructure:"structured"`
	StructuredFormat string            `yaml:"structured_format" mapstructure:"structured_format"`
	IncludePID       bool              `yaml:"include_pid"       mapstructure:"include_pid"`
	ExtraFields      map[string]string `yaml:"extra_fields"      mapstructure:"extra_fields"`
}
