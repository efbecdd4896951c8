package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/viper"
)

type Config struct {
	Mode    string        `mapstructure:"mode"`
	Port    int           `mapstructure:"port"`
	Secret  string        `mapstructure:"secret"`
	Auth    AuthConfig    `mapstructure:"auth"`
	Rooms   RoomsConfig   `mapstructure:"rooms"`
	Fanout  FanoutConfig  `mapstructure:"fanout"`
	Persist PersistConfig `mapstructure:"persist"`
	Store   StoreConfig   `mapstructure:"store"`
	Redis   RedisConfig   `mapstructure:"redis"`
	WebRTC  WebRTCConfig  `mapstructure:"webrtc"`
	Signal  SignalConfig  `mapstructure:"signal"`

	// AllowedOrigins empty allows any origin.
	AllowedOrigins []string `mapstructure:"allowed_origins"`
}

type AuthConfig struct {
	// JWTSecret empty disables the auth middleware.
	JWTSecret string `mapstructure:"jwt_secret"`
	Audience  string `mapstructure:"audience"`
}

type RoomsConfig struct {
	StrictCreate bool `mapstructure:"strict_create"`
}

type FanoutConfig struct {
	QueueSize int    `mapstructure:"queue_size"`
	Overflow  string `mapstructure:"overflow"`
}

type PersistConfig struct {
	Dir              string        `mapstructure:"dir"`
	UploadAttempts   int           `mapstructure:"upload_attempts"`
	UploadBackoff    time.Duration `mapstructure:"upload_backoff"`
	UploadMaxBackoff time.Duration `mapstructure:"upload_max_backoff"`
	KeepLocal        bool          `mapstructure:"keep_local"`
	ShutdownTimeout  time.Duration `mapstructure:"shutdown_timeout"`
}

type StoreConfig struct {
	// Kind is "supabase" or "local".
	Kind          string        `mapstructure:"kind"`
	SupabaseURL   string        `mapstructure:"supabase_url"`
	SupabaseKey   string        `mapstructure:"supabase_key"`
	Bucket        string        `mapstructure:"bucket"`
	Timeout       time.Duration `mapstructure:"timeout"`
	LocalDir      string        `mapstructure:"local_dir"`
	PublicBaseURL string        `mapstructure:"public_base_url"`
}

type RedisConfig struct {
	// Addr empty keeps the recordings catalog in memory.
	Addr          string `mapstructure:"addr"`
	Password      string `mapstructure:"password"`
	DB            int    `mapstructure:"db"`
	MaxRecordings int64  `mapstructure:"max_recordings"`
}

type ICEServer struct {
	URLs       []string `mapstructure:"urls"`
	Username   string   `mapstructure:"username"`
	Credential string   `mapstructure:"credential"`
}

type WebRTCConfig struct {
	ICEServers  []ICEServer   `mapstructure:"ice_servers"`
	TrackWait   time.Duration `mapstructure:"track_wait"`
	PLIInterval time.Duration `mapstructure:"pli_interval"`
	PortMin     uint16        `mapstructure:"port_min"`
	PortMax     uint16        `mapstructure:"port_max"`
	PublicIP    string        `mapstructure:"public_ip"`
}

type SignalConfig struct {
	JoinLimit    int           `mapstructure:"join_limit"`
	JoinInterval time.Duration `mapstructure:"join_interval"`
	WriteWait    time.Duration `mapstructure:"write_wait"`
	MaxChunk     int64         `mapstructure:"max_chunk"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("mode", "release")
	v.SetDefault("port", 8080)
	v.SetDefault("secret", "change-me")
	v.SetDefault("allowed_origins", []string{})

	v.SetDefault("auth.jwt_secret", "")
	v.SetDefault("auth.audience", "authenticated")

	v.SetDefault("rooms.strict_create", false)

	v.SetDefault("fanout.queue_size", 256)
	v.SetDefault("fanout.overflow", "disconnect")

	v.SetDefault("persist.dir", "./recordings")
	v.SetDefault("persist.upload_attempts", 5)
	v.SetDefault("persist.upload_backoff", "1s")
	v.SetDefault("persist.upload_max_backoff", "30s")
	v.SetDefault("persist.keep_local", false)
	v.SetDefault("persist.shutdown_timeout", "30s")

	v.SetDefault("store.kind", "local")
	v.SetDefault("store.supabase_url", "")
	v.SetDefault("store.supabase_key", "")
	v.SetDefault("store.bucket", "videos")
	v.SetDefault("store.timeout", "60s")
	v.SetDefault("store.local_dir", "./uploads")
	v.SetDefault("store.public_base_url", "")

	v.SetDefault("redis.addr", "")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.max_recordings", 500)

	v.SetDefault("webrtc.ice_servers", []map[string]any{{"urls": []string{"stun:stun.l.google.com:19302"}}})
	v.SetDefault("webrtc.track_wait", "5s")
	v.SetDefault("webrtc.pli_interval", "3s")
	v.SetDefault("webrtc.port_min", 0)
	v.SetDefault("webrtc.port_max", 0)
	v.SetDefault("webrtc.public_ip", "")

	v.SetDefault("signal.join_limit", 10)
	v.SetDefault("signal.join_interval", "1m")
	v.SetDefault("signal.write_wait", "5s")
	v.SetDefault("signal.max_chunk", 4<<20)
}

// Load reads config/config.<CONFIG_ENV>.yaml (dev by default) on top of the
// built-in defaults. BROKER_* environment variables override both.
func Load() (*Config, error) {
	env := os.Getenv("CONFIG_ENV")
	if env == "" {
		env = "dev"
	}
	return LoadFile(fmt.Sprintf("config/config.%s.yaml", env))
}

func LoadFile(fileName string) (*Config, error) {
	v := viper.New()
	v.SetConfigType("yaml")
	v.SetConfigFile(fileName)
	v.SetEnvPrefix("BROKER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.Is(err, fs.ErrNotExist) && !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config %s: %w", fileName, err)
		}
		log.Warn().Str("module", "config").Str("file", fileName).Msg("config file not found, using defaults")
	} else {
		log.Info().Str("module", "config").Str("file", fileName).Msg("loaded config")
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	log.Info().Str("module", "config").Str("mode", cfg.Mode).Int("port", cfg.Port).Str("store", cfg.Store.Kind).Msg("config ready")
	return &cfg, nil
}

func (c *Config) validate() error {
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("invalid port %d", c.Port)
	}
	if c.Fanout.QueueSize <= 0 {
		return fmt.Errorf("fanout.queue_size must be positive, got %d", c.Fanout.QueueSize)
	}
	switch c.Store.Kind {
	case "local":
	case "supabase":
		if c.Store.SupabaseURL == "" || c.Store.Bucket == "" {
			return fmt.Errorf("store.kind supabase needs store.supabase_url and store.bucket")
		}
	default:
		return fmt.Errorf("unknown store.kind %q", c.Store.Kind)
	}
	if c.WebRTC.PortMin > c.WebRTC.PortMax {
		return fmt.Errorf("webrtc.port_min %d above port_max %d", c.WebRTC.PortMin, c.WebRTC.PortMax)
	}
	return nil
}
