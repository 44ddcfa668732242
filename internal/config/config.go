package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config represents the complete application configuration: one entry
// per pack under management, the pack topology and tunable table shared
// by every controller, and the ambient services (telemetry, persistence,
// HTTP status/control surface, logging).
type Config struct {
	Packs      []PackConfig     `mapstructure:"packs" validate:"required,min=1,dive"`
	Topology   TopologyConfig   `mapstructure:"topology" validate:"required"`
	Tunables   TunablesConfig   `mapstructure:"tunables" validate:"required"`
	API        APIConfig        `mapstructure:"api" validate:"required"`
	InfluxDB   InfluxDBConfig   `mapstructure:"influxdb" validate:"required"`
	PostgreSQL PostgreSQLConfig `mapstructure:"postgresql" validate:"required"`
	Logger     LoggerConfig     `mapstructure:"logger" validate:"required"`
}

// PackConfig contains one pack's Modbus driver connection settings.
type PackConfig struct {
	ID                 int           `mapstructure:"id" validate:"required,min=1"`
	Host               string        `mapstructure:"host" validate:"required,hostname_rfc1123|ip"`
	Port               int           `mapstructure:"port" validate:"required,min=1,max=65535"`
	SlaveID            byte          `mapstructure:"slave_id" validate:"required,min=1,max=255"`
	Timeout            time.Duration `mapstructure:"timeout" validate:"required"`
	ReconnectDelay     time.Duration `mapstructure:"reconnect_delay" validate:"required"`
	MonitorInterval    time.Duration `mapstructure:"monitor_interval" validate:"required,aligned_interval"`
	ProtectionInterval time.Duration `mapstructure:"protection_interval" validate:"required,aligned_interval"`
	ContactorInterval  time.Duration `mapstructure:"contactor_interval" validate:"required,aligned_interval"`
	StateInterval      time.Duration `mapstructure:"state_interval" validate:"required,aligned_interval"`
	PersistInterval    time.Duration `mapstructure:"persist_interval" validate:"required"`
}

// TopologyConfig describes the pack's physical series/parallel layout,
// shared across every configured pack.
type TopologyConfig struct {
	Modules          int `mapstructure:"n_modules" validate:"required,min=1"`
	CellsPerModule   int `mapstructure:"cells_per_module" validate:"required,min=1"`
	SensorsPerModule int `mapstructure:"sensors_per_module" validate:"required,min=1"`
}

// TunablesConfig mirrors the protection/contactor/current-limit tunable
// table; every field carries the canonical default as its SetDefault.
type TunablesConfig struct {
	NominalCapacityMAh int64 `mapstructure:"nominal_capacity_mah" validate:"required,min=1"`

	SEOvFaultMV    uint16 `mapstructure:"se_ov_fault_mv" validate:"required"`
	SEUvFaultMV    uint16 `mapstructure:"se_uv_fault_mv" validate:"required"`
	SEOtFaultDeciC int16  `mapstructure:"se_ot_fault_deci_c" validate:"required"`

	SEOvWarnMV  uint16 `mapstructure:"se_ov_warn_mv" validate:"required"`
	SEOvClearMV uint16 `mapstructure:"se_ov_clear_mv" validate:"required"`

	HWOvMV    uint16 `mapstructure:"hw_ov_mv" validate:"required"`
	HWUvMV    uint16 `mapstructure:"hw_uv_mv" validate:"required"`
	HWOtDeciC int16  `mapstructure:"hw_ot_deci_c" validate:"required"`

	SEFaultDelayMS uint32 `mapstructure:"se_fault_delay_ms" validate:"required"`
	HWOvDelayMS    uint32 `mapstructure:"hw_ov_delay_ms" validate:"required"`
	HWOtDelayMS    uint32 `mapstructure:"hw_ot_delay_ms" validate:"required"`

	WarnDelayMS uint32 `mapstructure:"warn_delay_ms" validate:"required"`
	WarnHoldMS  uint32 `mapstructure:"warn_hold_ms" validate:"required"`

	OCWarnDelayMS    uint32 `mapstructure:"oc_warn_delay_ms" validate:"required"`
	FaultResetHoldMS uint32 `mapstructure:"fault_reset_hold_ms" validate:"required"`

	VoltageMatchMVPerModule uint32 `mapstructure:"voltage_match_mv_per_module" validate:"required"`
	PrechargeTimeoutMS      uint32 `mapstructure:"precharge_timeout_ms" validate:"required"`
	WeldDetectMS            uint32 `mapstructure:"weld_detect_ms" validate:"required"`

	EMSWatchdogMS   uint32 `mapstructure:"ems_watchdog_ms" validate:"required"`
	ImbalanceWarnMV uint16 `mapstructure:"imbalance_warn_mv" validate:"required"`
	LeakDecayRatio  uint32 `mapstructure:"leak_decay_ratio" validate:"required"`
}

// APIConfig is the HTTP status/control surface's own listener settings,
// plus the EMS-facing Modbus TCP server's listener.
type APIConfig struct {
	Host       string `mapstructure:"host" validate:"required,hostname_rfc1123|ip"`
	Port       int    `mapstructure:"port" validate:"required,min=1,max=65535"`
	ModbusPort int    `mapstructure:"modbus_port" validate:"required,min=1,max=65535"`
}

// InfluxDBConfig contains InfluxDB-specific configuration
type InfluxDBConfig struct {
	URL           string        `mapstructure:"url" validate:"required,url"`
	Token         string        `mapstructure:"token" validate:"required"`
	Organization  string        `mapstructure:"organization" validate:"required"`
	Bucket        string        `mapstructure:"bucket" validate:"required"`
	BatchSize     uint          `mapstructure:"batch_size" validate:"required,min=1"`
	FlushInterval time.Duration `mapstructure:"flush_interval" validate:"required"`
}

// PostgreSQLConfig contains PostgreSQL-specific configuration
type PostgreSQLConfig struct {
	Host     string `mapstructure:"host" validate:"required,hostname_rfc1123|ip"`
	Port     int    `mapstructure:"port" validate:"required,min=1,max=65535"`
	Username string `mapstructure:"username" validate:"required"`
	Password string `mapstructure:"password" validate:"required"`
	Database string `mapstructure:"database" validate:"required"`
	SSLMode  string `mapstructure:"ssl_mode" validate:"required,oneof=disable allow prefer require verify-ca verify-full"`
	MaxIdle  int    `mapstructure:"max_idle_connections" validate:"required,min=1"`
	MaxOpen  int    `mapstructure:"max_open_connections" validate:"required,min=1"`
}

// LoggerConfig contains logger-specific configuration
type LoggerConfig struct {
	Level  string `mapstructure:"level" validate:"required,oneof=DEBUG INFO WARN ERROR FATAL"`
	Format string `mapstructure:"format" validate:"required,oneof=json console"`
}

var validate = NewValidator()

// Load loads configuration from the specified file path
func Load(configPath string) (*Config, error) {
	v := viper.New()

	// Set configuration file path and name
	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("json")
		v.AddConfigPath("./configs")
		v.AddConfigPath(".")
	}

	// Set default values
	setDefaults(v)

	// Enable environment variable support
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.SetEnvPrefix("BESS")

	// Explicitly bind all config keys for env variable support
	bindEnvVariables(v)

	// Read configuration file
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	// Unmarshal configuration
	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	// Validate configuration
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &config, nil
}

// bindEnvVariables explicitly binds all configuration keys to environment variables
func bindEnvVariables(v *viper.Viper) {
	// API
	v.BindEnv("api.host")
	v.BindEnv("api.port")
	v.BindEnv("api.modbus_port")

	// InfluxDB
	v.BindEnv("influxdb.url")
	v.BindEnv("influxdb.token")
	v.BindEnv("influxdb.organization")
	v.BindEnv("influxdb.bucket")
	v.BindEnv("influxdb.batch_size")
	v.BindEnv("influxdb.flush_interval")

	// PostgreSQL
	v.BindEnv("postgresql.host")
	v.BindEnv("postgresql.port")
	v.BindEnv("postgresql.username")
	v.BindEnv("postgresql.password")
	v.BindEnv("postgresql.database")
	v.BindEnv("postgresql.ssl_mode")
	v.BindEnv("postgresql.max_idle_connections")
	v.BindEnv("postgresql.max_open_connections")

	// Logger
	v.BindEnv("logger.level")
	v.BindEnv("logger.format")
}

// setDefaults sets default configuration values
func setDefaults(v *viper.Viper) {
	// Topology defaults, per spec's reference pack
	v.SetDefault("topology.n_modules", 22)
	v.SetDefault("topology.cells_per_module", 14)
	v.SetDefault("topology.sensors_per_module", 3)

	// Tunable table defaults
	v.SetDefault("tunables.nominal_capacity_mah", 128000)
	v.SetDefault("tunables.se_ov_fault_mv", 4225)
	v.SetDefault("tunables.se_uv_fault_mv", 3000)
	v.SetDefault("tunables.se_ot_fault_deci_c", 650)
	v.SetDefault("tunables.se_ov_warn_mv", 4210)
	v.SetDefault("tunables.se_ov_clear_mv", 4190)
	v.SetDefault("tunables.hw_ov_mv", 4300)
	v.SetDefault("tunables.hw_uv_mv", 2700)
	v.SetDefault("tunables.hw_ot_deci_c", 700)
	v.SetDefault("tunables.se_fault_delay_ms", 5000)
	v.SetDefault("tunables.hw_ov_delay_ms", 1000)
	v.SetDefault("tunables.hw_ot_delay_ms", 5000)
	v.SetDefault("tunables.warn_delay_ms", 5000)
	v.SetDefault("tunables.warn_hold_ms", 10000)
	v.SetDefault("tunables.oc_warn_delay_ms", 10000)
	v.SetDefault("tunables.fault_reset_hold_ms", 60000)
	v.SetDefault("tunables.voltage_match_mv_per_module", 1200)
	v.SetDefault("tunables.precharge_timeout_ms", 5000)
	v.SetDefault("tunables.weld_detect_ms", 200)
	v.SetDefault("tunables.ems_watchdog_ms", 5000)
	v.SetDefault("tunables.imbalance_warn_mv", 50)
	v.SetDefault("tunables.leak_decay_ratio", 2)

	// API defaults
	v.SetDefault("api.host", "0.0.0.0")
	v.SetDefault("api.port", 8090)
	v.SetDefault("api.modbus_port", 502)

	// InfluxDB defaults
	v.SetDefault("influxdb.batch_size", 100)
	v.SetDefault("influxdb.flush_interval", 5*time.Second)

	// PostgreSQL defaults
	v.SetDefault("postgresql.port", 5432)
	v.SetDefault("postgresql.ssl_mode", "disable")
	v.SetDefault("postgresql.max_idle_connections", 5)
	v.SetDefault("postgresql.max_open_connections", 10)

	// Logger defaults
	v.SetDefault("logger.level", "INFO")
	v.SetDefault("logger.format", "json")
}

// Validate validates the configuration
func (c *Config) Validate() error {
	return validate.Struct(c)
}
