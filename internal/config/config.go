package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/vigilops/vigil-core/internal/event"
)

// Snapshot is the immutable configuration handed to the pipeline at
// construction. Reloads build a fresh Snapshot and swap components over
// to it; nothing mutates a snapshot in place.
type Snapshot struct {
	ListenAddr string `yaml:"listen_addr"`

	Database    DatabaseConfig    `yaml:"database"`
	Redis       RedisConfig       `yaml:"redis"`
	NATS        NATSConfig        `yaml:"nats"`
	MQTT        MQTTSection       `yaml:"mqtt"`
	Pipeline    PipelineConfig    `yaml:"pipeline"`
	Providers   ProvidersConfig   `yaml:"providers"`
	Costs       CostConfig        `yaml:"costs"`
	Correlation CorrelationConfig `yaml:"correlation"`
	Defaults    CameraDefaults    `yaml:"defaults"`
	Notify      NotifyConfig      `yaml:"notify"`
	Journal     JournalConfig     `yaml:"journal"`
	Auth        AuthConfig        `yaml:"auth"`
	API         APIConfig         `yaml:"api"`
}

type DatabaseConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	Name     string `yaml:"name"`
	SSLMode  string `yaml:"ssl_mode"`
}

func (d DatabaseConfig) ConnString() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
		d.User, d.Password, d.Host, d.Port, d.Name, d.SSLMode)
}

type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

type NATSConfig struct {
	URL               string `yaml:"url"`
	DetectionsSubject string `yaml:"detections_subject"`
	ResultsSubject    string `yaml:"results_subject"`
	PublishRetryMax   int    `yaml:"publish_retry_max"`
}

type MQTTSection struct {
	Enabled bool             `yaml:"enabled"`
	Source  event.MQTTConfig `yaml:",inline"`
}

type PipelineConfig struct {
	PerCameraInflight int `yaml:"per_camera_inflight"`
	MaxInflight       int `yaml:"max_inflight"`
	DownloadTimeoutMs int `yaml:"download_timeout_ms"`
	ProviderTimeoutMs int `yaml:"provider_timeout_ms"`
	DedupTTLSeconds   int `yaml:"dedup_ttl_seconds"`
	DedupMaxKeys      int `yaml:"dedup_max_keys"`
	// MediaToken authenticates snapshot and clip downloads against the
	// capture layer. Empty means the media endpoints are open.
	MediaToken string `yaml:"media_token"`
}

// ProviderSettings is one AI backend's connection block. Which fields
// matter depends on the adapter (ollama has no key, openai no region).
type ProviderSettings struct {
	APIKey  string `yaml:"api_key"`
	Model   string `yaml:"model"`
	BaseURL string `yaml:"base_url"`
	// RequestsPerMinute adds client-side pacing; 0 disables it.
	RequestsPerMinute float64 `yaml:"requests_per_minute"`
}

type ProvidersConfig struct {
	Order    []string                    `yaml:"order"`
	Settings map[string]ProviderSettings `yaml:"settings"`
}

type CostConfig struct {
	DailyCapUSD   float64 `yaml:"daily_cap_usd"`
	MonthlyCapUSD float64 `yaml:"monthly_cap_usd"`
	ActionOnCap   string  `yaml:"action_on_cap"` // "force_cheapest" (default), "log_only"
}

type CorrelationConfig struct {
	WindowSeconds int `yaml:"window_seconds"`
	// Aliases widens intersection matching: each key is a class name,
	// values are labels folded into it. Off unless configured.
	Aliases map[string][]string `yaml:"aliases"`
}

type CameraDefaults struct {
	AnalysisMode string `yaml:"analysis_mode"`
	FrameCount   int    `yaml:"frame_count"`
}

type NotifyConfig struct {
	WebhookTimeoutMs  int      `yaml:"webhook_timeout_ms"`
	WebhookMaxRetries int      `yaml:"webhook_max_retries"`
	PushURLs          []string `yaml:"push_urls"` // shoutrrr service URLs
}

type JournalConfig struct {
	SpoolDir       string `yaml:"spool_dir"`
	SpoolMaxSizeMB int    `yaml:"spool_max_size_mb"`
	RetentionDays  int    `yaml:"retention_days"`
}

type AuthConfig struct {
	JWTSigningKey string `yaml:"jwt_signing_key"`
}

type APIConfig struct {
	// TriggerPerMinute caps manual analysis triggers per camera.
	TriggerPerMinute int `yaml:"trigger_per_minute"`
	// IPRatePerMinute is the blanket per-client request budget.
	IPRatePerMinute int `yaml:"ip_rate_per_minute"`
}

// Load reads the YAML file, layers env overrides for secrets, applies
// defaults, and validates. The returned snapshot is ready to inject.
func Load(path string) (*Snapshot, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}

	var s Snapshot
	if err := yaml.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}

	s.applyEnv()
	s.applyDefaults()

	if err := s.Validate(); err != nil {
		return nil, err
	}
	return &s, nil
}

// applyEnv lets deployment secrets override file values.
func (s *Snapshot) applyEnv() {
	if v := os.Getenv("DB_HOST"); v != "" {
		s.Database.Host = v
	}
	if v := os.Getenv("DB_USER"); v != "" {
		s.Database.User = v
	}
	if v := os.Getenv("DB_PASSWORD"); v != "" {
		s.Database.Password = v
	}
	if v := os.Getenv("DB_NAME"); v != "" {
		s.Database.Name = v
	}
	if v := os.Getenv("REDIS_ADDR"); v != "" {
		s.Redis.Addr = v
	}
	if v := os.Getenv("NATS_URL"); v != "" {
		s.NATS.URL = v
	}
	if v := os.Getenv("JWT_SIGNING_KEY"); v != "" {
		s.Auth.JWTSigningKey = v
	}
	if v := os.Getenv("MEDIA_BEARER_TOKEN"); v != "" {
		s.Pipeline.MediaToken = v
	}
	if v := os.Getenv("OPENAI_API_KEY"); v != "" {
		s.setProviderKey("openai", v)
	}
	if v := os.Getenv("GEMINI_API_KEY"); v != "" {
		s.setProviderKey("gemini", v)
	}
}

func (s *Snapshot) setProviderKey(name, key string) {
	if s.Providers.Settings == nil {
		s.Providers.Settings = make(map[string]ProviderSettings)
	}
	ps := s.Providers.Settings[name]
	ps.APIKey = key
	s.Providers.Settings[name] = ps
}

func (s *Snapshot) applyDefaults() {
	if s.ListenAddr == "" {
		s.ListenAddr = ":8080"
	}
	if s.Database.Port == 0 {
		s.Database.Port = 5432
	}
	if s.Database.SSLMode == "" {
		s.Database.SSLMode = "disable"
	}
	if s.Redis.Addr == "" {
		s.Redis.Addr = "localhost:6379"
	}
	if s.NATS.URL == "" {
		s.NATS.URL = "nats://localhost:4222"
	}
	if s.NATS.DetectionsSubject == "" {
		s.NATS.DetectionsSubject = "vigil.detections.>"
	}
	if s.NATS.ResultsSubject == "" {
		s.NATS.ResultsSubject = "vigil.results"
	}
	if s.NATS.PublishRetryMax == 0 {
		s.NATS.PublishRetryMax = 3
	}
	if s.Pipeline.PerCameraInflight == 0 {
		s.Pipeline.PerCameraInflight = 1
	}
	if s.Pipeline.MaxInflight == 0 {
		s.Pipeline.MaxInflight = 8
	}
	if s.Pipeline.DownloadTimeoutMs == 0 {
		s.Pipeline.DownloadTimeoutMs = 15000
	}
	if s.Pipeline.ProviderTimeoutMs == 0 {
		s.Pipeline.ProviderTimeoutMs = 10000
	}
	if s.Pipeline.DedupTTLSeconds == 0 {
		s.Pipeline.DedupTTLSeconds = 60
	}
	if s.Pipeline.DedupMaxKeys == 0 {
		s.Pipeline.DedupMaxKeys = 4096
	}
	if len(s.Providers.Order) == 0 {
		s.Providers.Order = []string{"openai", "gemini", "ollama"}
	}
	if s.Costs.ActionOnCap == "" {
		s.Costs.ActionOnCap = "force_cheapest"
	}
	if s.Correlation.WindowSeconds == 0 {
		s.Correlation.WindowSeconds = 10
	}
	if s.Defaults.AnalysisMode == "" {
		s.Defaults.AnalysisMode = "single_frame"
	}
	if s.Defaults.FrameCount == 0 {
		s.Defaults.FrameCount = 3
	}
	if s.Notify.WebhookTimeoutMs == 0 {
		s.Notify.WebhookTimeoutMs = 5000
	}
	if s.Notify.WebhookMaxRetries == 0 {
		s.Notify.WebhookMaxRetries = 3
	}
	if s.Journal.SpoolDir == "" {
		s.Journal.SpoolDir = "/var/lib/vigil/journal_spool"
	}
	if s.Journal.SpoolMaxSizeMB == 0 {
		s.Journal.SpoolMaxSizeMB = 256
	}
	if s.Journal.RetentionDays == 0 {
		s.Journal.RetentionDays = 30
	}
	if s.Auth.JWTSigningKey == "" {
		s.Auth.JWTSigningKey = "dev-secret-do-not-use-in-prod"
	}
	if s.API.TriggerPerMinute == 0 {
		s.API.TriggerPerMinute = 10
	}
	if s.API.IPRatePerMinute == 0 {
		s.API.IPRatePerMinute = 300
	}
}

func (s *Snapshot) Validate() error {
	for _, name := range s.Providers.Order {
		if _, ok := s.Providers.Settings[name]; !ok {
			return fmt.Errorf("provider %q listed in order but has no settings block", name)
		}
	}
	switch s.Costs.ActionOnCap {
	case "force_cheapest", "log_only":
	default:
		return fmt.Errorf("unknown action_on_cap %q", s.Costs.ActionOnCap)
	}
	switch s.Defaults.AnalysisMode {
	case "single_frame", "multi_frame", "video_native":
	default:
		return fmt.Errorf("unknown default analysis_mode %q", s.Defaults.AnalysisMode)
	}
	if s.Defaults.FrameCount < 1 {
		return fmt.Errorf("default frame_count must be >= 1")
	}
	if s.Costs.DailyCapUSD < 0 || s.Costs.MonthlyCapUSD < 0 {
		return fmt.Errorf("cost caps must be >= 0")
	}
	if s.MQTT.Enabled && s.MQTT.Source.Broker == "" {
		return fmt.Errorf("mqtt enabled but no broker configured")
	}
	return nil
}
