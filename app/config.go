package roomchat

import (
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"io/fs"
	"maps"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/mitchellh/mapstructure"
	"github.com/putto11262002/roomchat/core"
	"github.com/spf13/viper"
)

const (
	DevMode  = "dev"
	ProdMode = "prod"
)

type Config struct {
	// Mode is either dev or prod. The default is dev.
	Mode string `validate:"required,oneof=dev prod"`
	// Port is the Port number to listen on. The default is 8080.
	Port int `validate:"required,port"`
	// Hostname is the Hostname to listen on. The default is 0.0.0.0.
	Hostname string `validate:"required"`
	Auth     struct {
		// Secret is the Secret key used to sign JWT tokens.
		// The secret must be a base64 encoded string. The default is a random 32 byte string.
		Secret Base64Encoded `validate:"required"`
		// TokenExp is how long a session stays valid. The default is 24h.
		TokenExp time.Duration `mapstructure:"token_exp" validate:"gte=0"`
	}
	SQLite struct {
		// File is the path to the SQLite database file.
		File string `validate:"required"`
		// Migrations is the path to the directory that the migration files reside.
		Migrations string `validate:"required"`
		// Mode is the sqlite open mode. The default is rwc.
		Mode string `validate:"omitempty,oneof=ro rw rwc memory"`
	}
	TLS struct {
		Crt string
		Key string
	}
	Static struct {
		// Dir is an optional directory of web client files served at the root.
		Dir string
	}
	// AllowedOrigins is a list of origins that are allowed to connect to the server.
	// The default is ["*"].
	AllowedOrigins []string
	Room           struct {
		// KeyEncoding is how room keys are derived from member ids: delimited or concat.
		KeyEncoding string `mapstructure:"key_encoding" validate:"required,keyencoding"`
		// MessageLimit is the number of most recent messages a room shows.
		MessageLimit int `mapstructure:"message_limit" validate:"gte=1"`
		// ScrollDelay is how long after a send the client is told to scroll.
		ScrollDelay time.Duration `mapstructure:"scroll_delay" validate:"gte=0"`
	}
	Feed struct {
		// RedisURL enables the redis change feed when set.
		RedisURL    string `mapstructure:"redis_url" validate:"omitempty,url"`
		RedisPrefix string `mapstructure:"redis_prefix"`
	}
	valid bool
}

type Base64Encoded []byte

func (b *Base64Encoded) UnmarshalText(text []byte) error {
	dec, err := base64.StdEncoding.DecodeString(string(text))
	if err != nil {
		return fmt.Errorf("base64 decode: %w", err)
	}
	*b = dec
	return nil
}

// KeyEncoding returns the parsed room key encoding.
func (c *Config) KeyEncoding() core.KeyEncoding {
	enc, _ := core.ParseKeyEncoding(c.Room.KeyEncoding)
	return enc
}

func setDefaults(v *viper.Viper) error {
	// generate a random secret key
	secret := make([]byte, 32)
	if _, err := rand.Read(secret); err != nil {
		return fmt.Errorf("generate secret: %w", err)
	}

	v.SetDefault("mode", DevMode)
	v.SetDefault("port", 8080)
	v.SetDefault("hostname", "0.0.0.0")
	v.SetDefault("auth.secret", base64.StdEncoding.EncodeToString(secret))
	v.SetDefault("auth.token_exp", 24*time.Hour)
	v.SetDefault("sqlite.file", "./roomchat.db")
	v.SetDefault("sqlite.migrations", "./migrations")
	v.SetDefault("sqlite.mode", "rwc")
	v.SetDefault("tls.crt", "")
	v.SetDefault("tls.key", "")
	v.SetDefault("static.dir", "")
	v.SetDefault("allowedorigins", []string{"*"})
	v.SetDefault("room.key_encoding", core.DelimitedKeys.String())
	v.SetDefault("room.message_limit", core.DefaultMessageLimit)
	v.SetDefault("room.scroll_delay", core.DefaultScrollDelay)
	v.SetDefault("feed.redis_url", "")
	v.SetDefault("feed.redis_prefix", "roomchat")
	return nil
}

// LoadConfig loads the configuration from dir/config.yaml, dir/.env and environment variables,
// in increasing order of precedence. Both files are optional.
// Environment variables are prefixed with ROOMCHAT_, e.g. ROOMCHAT_ROOM_KEY_ENCODING.
// Invalid values are left for the validation step to report.
func LoadConfig(dir string) (*Config, error) {
	if err := godotenv.Load(filepath.Join(dir, ".env")); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	v := viper.New()
	v.SetConfigName("config")
	v.AddConfigPath(dir)
	v.SetConfigType("yaml")
	v.SetEnvPrefix("roomchat")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := setDefaults(v); err != nil {
		return nil, err
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	config := &Config{}
	if err := v.Unmarshal(config,
		viper.DecodeHook(mapstructure.ComposeDecodeHookFunc(
			mapstructure.TextUnmarshallerHookFunc(),
			mapstructure.StringToTimeDurationHookFunc(),
			mapstructure.StringToSliceHookFunc(",")),
		),
	); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	return config, nil
}

func (c *Config) Validate() error {
	if c.valid {
		return nil
	}
	err := validate.Struct(c)
	if err != nil {
		return err
	}
	c.valid = true
	return nil
}

func FormatValidationErrors(err error) string {
	errs, ok := err.(validator.ValidationErrors)
	if !ok {
		return err.Error()
	}
	trans, _ := uniTrans.GetTranslator("en")
	translated := errs.Translate(trans)

	var sb strings.Builder
	for _, k := range slices.Sorted(maps.Keys(translated)) {
		sb.WriteString(translated[k])
		sb.WriteString("\n")
	}
	return sb.String()
}
