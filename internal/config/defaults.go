package config

// Default values for every optional key.
const (
	DefaultResourceURL        = "https://graph.microsoft.com/"
	DefaultAPIVersion         = "v1.0"
	defaultMaxRetries         = 3
	defaultLargeFileThreshold = "100MiB"
	defaultChunkSize          = "10MiB"
	defaultBandwidthLimit     = "0"
	defaultParallelTransfers  = 4
	defaultLogLevel           = "info"
	defaultLogFormat          = "auto"
	defaultConnectTimeout     = "10s"
	defaultDataTimeout        = "60s"
	defaultIdleTimeout        = "30s"
)

// DefaultConfig returns a Config with every optional key at its default.
// Credentials are left empty. It is the starting point for TOML decoding so
// keys absent from the file keep their defaults.
func DefaultConfig() *Config {
	return &Config{
		APIConfig: APIConfig{
			ResourceURL: DefaultResourceURL,
			APIVersion:  DefaultAPIVersion,
			MaxRetries:  defaultMaxRetries,
		},
		TransfersConfig: TransfersConfig{
			LargeFileThreshold: defaultLargeFileThreshold,
			ChunkSize:          defaultChunkSize,
			BandwidthLimit:     defaultBandwidthLimit,
			ParallelTransfers:  defaultParallelTransfers,
		},
		LoggingConfig: LoggingConfig{
			LogLevel:  defaultLogLevel,
			LogFormat: defaultLogFormat,
		},
		NetworkConfig: NetworkConfig{
			ConnectTimeout: defaultConnectTimeout,
			DataTimeout:    defaultDataTimeout,
			IdleTimeout:    defaultIdleTimeout,
		},
	}
}
