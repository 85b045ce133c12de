package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"
	"gopkg.in/yaml.v3"

	"github.com/lorawan-server/lorawan-virtual-lab/internal/models"
	"github.com/lorawan-server/lorawan-virtual-lab/pkg/lorawan"
)

// Config represents the application configuration
type Config struct {
	Server     ServerConfig     `yaml:"server"`
	API        APIConfig        `yaml:"api"`
	Web        WebConfig        `yaml:"web"`
	NATS       NATSConfig       `yaml:"nats"`
	MQTT       MQTTConfig       `yaml:"mqtt"`
	JWT        JWTConfig        `yaml:"jwt"`
	Log        LogConfig        `yaml:"log"`
	Metrics    MetricsConfig    `yaml:"metrics"`
	Simulation SimulationConfig `yaml:"simulation"`
}

// ServerConfig represents server configuration
type ServerConfig struct {
	Name    string `yaml:"name"`
	Version string `yaml:"version"`
}

// APIConfig represents API configuration
type APIConfig struct {
	Host           string   `yaml:"host"`
	Port           int      `yaml:"port"`
	AllowedOrigins []string `yaml:"allowed_origins"`
}

// WebConfig represents web UI configuration
type WebConfig struct {
	StaticDir string `yaml:"static_dir"`
}

// NATSConfig represents NATS configuration
type NATSConfig struct {
	URL               string        `yaml:"url"`
	ClientID          string        `yaml:"client_id"`
	Username          string        `yaml:"username"`
	Password          string        `yaml:"password"`
	MaxReconnects     int           `yaml:"max_reconnects"`
	ReconnectInterval time.Duration `yaml:"reconnect_interval"`
	SubjectPrefix     string        `yaml:"subject_prefix"`
	Encoding          string        `yaml:"encoding"` // json | msgpack
	Commands          bool          `yaml:"commands"`
}

// MQTTConfig represents the MQTT integration
type MQTTConfig struct {
	Broker      string        `yaml:"broker"`
	ClientID    string        `yaml:"client_id"`
	Username    string        `yaml:"username"`
	Password    string        `yaml:"password"`
	TopicPrefix string        `yaml:"topic_prefix"`
	QoS         byte          `yaml:"qos"`
	Timeout     time.Duration `yaml:"timeout"`
}

// JWTConfig represents JWT configuration
type JWTConfig struct {
	Enabled         bool          `yaml:"enabled"`
	Secret          string        `yaml:"secret"`
	AccessTokenTTL  time.Duration `yaml:"access_token_ttl"`
	RefreshTokenTTL time.Duration `yaml:"refresh_token_ttl"`

	// Instructor credentials; the password is stored as a bcrypt hash
	Username     string `yaml:"username"`
	PasswordHash string `yaml:"password_hash"`
}

// LogConfig represents logging configuration
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"` // console | json
}

// MetricsConfig represents the Prometheus endpoint
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

// SimulationConfig holds every timing and range constant of the lab
type SimulationConfig struct {
	Region                string                             `yaml:"region"`
	Radio                 lorawan.RadioConfig                `yaml:"radio"`
	DefaultProfile        string                             `yaml:"default_profile"`
	Profiles              []models.DeviceProfile             `yaml:"profiles"`
	UpdateInterval        time.Duration                      `yaml:"update_interval"`
	BaseInterval          time.Duration                      `yaml:"base_interval"`
	StepPenalty           time.Duration                      `yaml:"step_penalty"`
	PayloadBytes          int                                `yaml:"payload_bytes"`
	HistoryCapacity       int                                `yaml:"history_capacity"`
	LogCapacity           int                                `yaml:"log_capacity"`
	DisconnectDelay       time.Duration                      `yaml:"disconnect_delay"`
	ConnectionSteps       []DeviceStep                       `yaml:"connection_steps"`
	ServerSteps           []ServerStep                       `yaml:"server_steps"`
	RelayStages           []RelayStep                        `yaml:"relay_stages"`
	Signal                SignalConfig                       `yaml:"signal"`
	RSSI                  models.Range                       `yaml:"rssi"`
	SNR                   models.Range                       `yaml:"snr"`
	SensorRanges          map[models.SensorKind]models.Range `yaml:"sensor_ranges"`
	BatteryDrainPerSample float64                            `yaml:"battery_drain_per_sample"`
	Seed                  int64                              `yaml:"seed"`
}

// DeviceStep enters State once Delay has elapsed since the previous step
type DeviceStep struct {
	State models.DeviceLinkState `yaml:"state"`
	Delay time.Duration          `yaml:"delay"`
}

// ServerStep enters State once Delay has elapsed since the previous step
type ServerStep struct {
	State models.ServerLinkState `yaml:"state"`
	Delay time.Duration          `yaml:"delay"`
}

// RelayStep is one hop of an uplink and the time it takes
type RelayStep struct {
	Stage models.RelayStage `yaml:"stage"`
	Delay time.Duration     `yaml:"delay"`
}

// SignalConfig bounds the simulated signal strength in dBm
type SignalConfig struct {
	Floor   float64 `yaml:"floor"`
	Nominal float64 `yaml:"nominal"`
	Ceiling float64 `yaml:"ceiling"`
	Jitter  float64 `yaml:"jitter"`
}

// CycleDelay is the pause between two uplinks at spreading factor sf
func (s *SimulationConfig) CycleDelay(sf int) time.Duration {
	return s.BaseInterval + time.Duration(sf-7)*s.StepPenalty
}

// Profile looks up a device profile by name
func (s *SimulationConfig) Profile(name string) (models.DeviceProfile, bool) {
	for _, p := range s.Profiles {
		if p.Name == name {
			return p, true
		}
	}
	return models.DeviceProfile{}, false
}

// Default returns the canonical lab configuration
func Default() *Config {
	cfg := &Config{}
	cfg.setDefaults()
	return cfg
}

// Load loads configuration from file. An empty filename yields Default().
func Load(filename string) (*Config, error) {
	loadDotEnv()

	var cfg Config
	if filename != "" {
		data, err := os.ReadFile(filename)
		if err != nil {
			return nil, fmt.Errorf("read config file: %w", err)
		}

		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("unmarshal config: %w", err)
		}
	}

	// Apply environment overrides
	cfg.applyEnvOverrides()

	cfg.setDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("simulation config validation failed: %w", err)
	}

	return &cfg, nil
}

// loadDotEnv 读取 .env（可选）
func loadDotEnv() {
	path := os.Getenv("LAB_ENV_FILE")
	if path == "" {
		path = ".env"
	}
	if _, err := os.Stat(path); err != nil {
		return
	}
	if err := godotenv.Load(path); err != nil {
		log.Warn().Err(err).Str("file", path).Msg("failed to load env file")
	}
}

// applyEnvOverrides applies environment variable overrides
func (c *Config) applyEnvOverrides() {
	if natsURL := os.Getenv("NATS_URL"); natsURL != "" {
		c.NATS.URL = natsURL
	}

	if broker := os.Getenv("MQTT_BROKER"); broker != "" {
		c.MQTT.Broker = broker
	}

	if jwtSecret := os.Getenv("JWT_SECRET"); jwtSecret != "" {
		c.JWT.Secret = jwtSecret
	}

	if hash := os.Getenv("LAB_PASSWORD_HASH"); hash != "" {
		c.JWT.PasswordHash = hash
	}

	if logLevel := os.Getenv("LOG_LEVEL"); logLevel != "" {
		c.Log.Level = logLevel
	}

	if interval := os.Getenv("LAB_UPDATE_INTERVAL"); interval != "" {
		d, err := time.ParseDuration(interval)
		if err != nil {
			log.Warn().Str("value", interval).Msg("invalid LAB_UPDATE_INTERVAL, ignored")
		} else {
			c.Simulation.UpdateInterval = d
		}
	}
}

func (c *Config) setDefaults() {
	if c.Server.Name == "" {
		c.Server.Name = "LoRaWAN Virtual Lab"
	}
	if c.Server.Version == "" {
		c.Server.Version = "1.0.0"
	}
	if c.API.Host == "" {
		c.API.Host = "0.0.0.0"
	}
	if c.API.Port == 0 {
		c.API.Port = 8090
	}
	if len(c.API.AllowedOrigins) == 0 {
		c.API.AllowedOrigins = []string{"*"}
	}
	if c.Web.StaticDir == "" {
		c.Web.StaticDir = "web"
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Log.Format == "" {
		c.Log.Format = "console"
	}
	if c.Metrics.Path == "" {
		c.Metrics.Path = "/metrics"
	}

	c.setDefaultMessaging()
	c.setDefaultAuth()
	c.Simulation.setDefaults()
}

func (c *Config) setDefaultMessaging() {
	if c.NATS.ClientID == "" {
		c.NATS.ClientID = "lorawan-virtual-lab"
	}
	if c.NATS.MaxReconnects == 0 {
		c.NATS.MaxReconnects = 10
	}
	if c.NATS.ReconnectInterval == 0 {
		c.NATS.ReconnectInterval = 2 * time.Second
	}
	if c.NATS.SubjectPrefix == "" {
		c.NATS.SubjectPrefix = "lab"
	}
	if c.NATS.Encoding == "" {
		c.NATS.Encoding = "json"
	}

	if c.MQTT.ClientID == "" {
		c.MQTT.ClientID = "lorawan-virtual-lab"
	}
	if c.MQTT.TopicPrefix == "" {
		c.MQTT.TopicPrefix = "lorawan-lab"
	}
	if c.MQTT.Timeout == 0 {
		c.MQTT.Timeout = 5 * time.Second
	}
}

func (c *Config) setDefaultAuth() {
	if c.JWT.AccessTokenTTL == 0 {
		c.JWT.AccessTokenTTL = time.Hour
	}
	if c.JWT.RefreshTokenTTL == 0 {
		c.JWT.RefreshTokenTTL = 24 * time.Hour
	}
	if c.JWT.Username == "" {
		c.JWT.Username = "instructor"
	}
}

// setDefaults 设置仿真默认值（与教学仪表盘一致）
func (s *SimulationConfig) setDefaults() {
	if s.Region == "" {
		s.Region = "EU868"
	}
	if s.Radio == (lorawan.RadioConfig{}) {
		s.Radio = lorawan.DefaultRadioConfig()
	}
	if len(s.Profiles) == 0 {
		s.Profiles = append([]models.DeviceProfile(nil), models.DefaultProfiles...)
	}
	if s.DefaultProfile == "" {
		s.DefaultProfile = s.Profiles[0].Name
	}
	if s.UpdateInterval == 0 {
		s.UpdateInterval = time.Second
	}
	if s.BaseInterval == 0 {
		s.BaseInterval = 5 * time.Second
	}
	if s.StepPenalty == 0 {
		s.StepPenalty = 500 * time.Millisecond
	}
	if s.PayloadBytes == 0 {
		s.PayloadBytes = lorawan.DefaultPayloadBytes
	}
	if s.HistoryCapacity == 0 {
		s.HistoryCapacity = 20
	}
	if s.LogCapacity == 0 {
		s.LogCapacity = 10
	}
	if s.DisconnectDelay == 0 {
		s.DisconnectDelay = time.Second
	}

	if len(s.ConnectionSteps) == 0 {
		s.ConnectionSteps = []DeviceStep{
			{State: models.DeviceScanning, Delay: 0},
			{State: models.DeviceConnecting, Delay: time.Second},
			{State: models.DeviceAuthenticating, Delay: 2 * time.Second},
			{State: models.DeviceConnected, Delay: 2500 * time.Millisecond},
		}
	}
	if len(s.ServerSteps) == 0 {
		s.ServerSteps = []ServerStep{
			{State: models.ServerConnecting, Delay: 500 * time.Millisecond},
			{State: models.ServerConnected, Delay: time.Second},
		}
	}
	if len(s.RelayStages) == 0 {
		s.RelayStages = []RelayStep{
			{Stage: models.StageDeviceToGateway, Delay: 800 * time.Millisecond},
			{Stage: models.StageGatewayToServer, Delay: time.Second},
			{Stage: models.StageServerToApp, Delay: 700 * time.Millisecond},
		}
	}

	if s.Signal == (SignalConfig{}) {
		s.Signal = SignalConfig{Floor: -120, Nominal: -85, Ceiling: -50, Jitter: 2}
	}
	if s.RSSI == (models.Range{}) {
		s.RSSI = models.Range{Min: -120, Max: -50}
	}
	if s.SNR == (models.Range{}) {
		s.SNR = models.Range{Min: -7.5, Max: 10}
	}
	if s.BatteryDrainPerSample == 0 {
		s.BatteryDrainPerSample = 0.5
	}
}

// Validate checks the simulation parameters for consistency
func (c *Config) Validate() error {
	s := &c.Simulation

	if err := s.Radio.Validate(); err != nil {
		return err
	}
	if _, ok := s.Profile(s.DefaultProfile); !ok {
		return fmt.Errorf("default profile %q is not defined", s.DefaultProfile)
	}
	for _, p := range s.Profiles {
		for _, k := range p.Sensors {
			if _, err := models.ParseSensorKind(string(k)); err != nil {
				return fmt.Errorf("profile %s: %w", p.Name, err)
			}
		}
	}
	for k, r := range s.SensorRanges {
		if _, err := models.ParseSensorKind(string(k)); err != nil {
			return err
		}
		if r.Min > r.Max {
			return fmt.Errorf("sensor range %s: min %.1f > max %.1f", k, r.Min, r.Max)
		}
	}
	if s.ConnectionSteps[len(s.ConnectionSteps)-1].State != models.DeviceConnected {
		return errors.New("connection steps must end in the connected state")
	}
	if s.ServerSteps[len(s.ServerSteps)-1].State != models.ServerConnected {
		return errors.New("server steps must end in the connected state")
	}
	if s.HistoryCapacity < 1 {
		return fmt.Errorf("history capacity must be positive, got %d", s.HistoryCapacity)
	}
	if s.LogCapacity < 0 {
		return fmt.Errorf("log capacity must not be negative, got %d", s.LogCapacity)
	}
	if !(s.Signal.Floor < s.Signal.Nominal && s.Signal.Nominal <= s.Signal.Ceiling) {
		return fmt.Errorf("signal bounds must satisfy floor < nominal <= ceiling")
	}
	if s.UpdateInterval <= 0 || s.BaseInterval <= 0 || s.StepPenalty < 0 {
		return errors.New("intervals must be positive")
	}
	switch c.NATS.Encoding {
	case "json", "msgpack":
	default:
		return fmt.Errorf("invalid nats encoding: %s", c.NATS.Encoding)
	}
	if c.JWT.Enabled && (c.JWT.Secret == "" || c.JWT.PasswordHash == "") {
		return errors.New("jwt enabled but secret or password hash missing")
	}

	return nil
}

// PrintConfigSummary 打印配置摘要
func (c *Config) PrintConfigSummary() {
	s := &c.Simulation

	fmt.Printf("=== %s Configuration ===\n", c.Server.Name)
	fmt.Printf("Server: %s v%s\n", c.Server.Name, c.Server.Version)
	fmt.Printf("API: %s:%d (auth: %v)\n", c.API.Host, c.API.Port, c.JWT.Enabled)
	fmt.Printf("Region: %s\n", s.Region)
	fmt.Printf("Radio: %s, payload %d bytes\n", s.Radio, s.PayloadBytes)
	fmt.Printf("  Airtime: %.1f ms, Data rate: %d bps\n",
		s.Radio.AirtimeMs(s.PayloadBytes), s.Radio.DataRateBps())
	fmt.Printf("Cycle: base %s + %s per SF step (current %s)\n",
		s.BaseInterval, s.StepPenalty, s.CycleDelay(s.Radio.SpreadingFactor))
	fmt.Printf("Refresh interval: %s\n", s.UpdateInterval)
	fmt.Printf("History capacity: %d, Log capacity: %d\n", s.HistoryCapacity, s.LogCapacity)

	fmt.Printf("Connection steps:\n")
	for _, step := range s.ConnectionSteps {
		fmt.Printf("  +%-6s device %s\n", step.Delay, step.State)
	}
	for _, step := range s.ServerSteps {
		fmt.Printf("  +%-6s server %s\n", step.Delay, step.State)
	}

	fmt.Printf("Profiles:\n")
	for _, p := range s.Profiles {
		marker := " "
		if p.Name == s.DefaultProfile {
			marker = "*"
		}
		fmt.Printf("  %s %s %v\n", marker, p.Name, p.Sensors)
	}

	if c.NATS.URL != "" {
		fmt.Printf("NATS: %s (prefix %s, %s)\n", c.NATS.URL, c.NATS.SubjectPrefix, c.NATS.Encoding)
	}
	if c.MQTT.Broker != "" {
		fmt.Printf("MQTT: %s (prefix %s)\n", c.MQTT.Broker, c.MQTT.TopicPrefix)
	}

	fmt.Printf("==========================================\n")
}
