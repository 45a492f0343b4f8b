package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
)

type Env string

const (
	EnvDevelopment Env = "development"
	EnvProduction  Env = "production"
	EnvTest        Env = "test"
)

type Config struct {
	Env       Env    `validate:"oneof=development production test"`
	HTTPAddr  string `validate:"required"`
	PublicURL string `validate:"omitempty,url"`
	LogLevel  string `validate:"oneof=trace debug info warn error"`

	DBDriver string `validate:"oneof=sqlite postgres"`
	DBDSN    string

	// LTI 1.3 platform registration
	LTIIssuer     string `validate:"required,url"`
	LTIClientID   string `validate:"required"`
	LTIKeySetURL  string `validate:"required,url"`
	LTIAuthURL    string `validate:"required,url"`
	LTILaunchURL  string `validate:"required,url"`
	LTIPrivateKey string
	LTIPublicKey  string
	LTIKID        string

	EncryptionSecret string `validate:"required,min=32"`
	OpenAIAPIURL     string `validate:"required,url"`
	RedisURL         string `validate:"omitempty,url"`
	CORSOrigins      []string
	TrustProxy       bool // client IP from the first X-Forwarded-For hop

	SessionTTL           time.Duration `validate:"gt=0"`
	SessionSweepInterval time.Duration `validate:"gt=0"`
	KeySetMaxAge         time.Duration `validate:"gt=0"`
	KeySetCooldown       time.Duration `validate:"gte=0"`
	ClockSkew            time.Duration `validate:"gte=0"`

	RateLimitRPS   float64 `validate:"gte=0"`
	RateLimitBurst int     `validate:"gte=0"`
}

func (c Config) Production() bool { return c.Env == EnvProduction }

// Error lists every invalid setting at once.
type Error struct {
	Problems []string
}

func (e *Error) Error() string {
	return "config: " + strings.Join(e.Problems, "; ")
}

var validate = validator.New()

// Load reads the environment, applies defaults and validates the result.
func Load() (Config, error) {
	var problems []string
	dur := func(k string, def time.Duration) time.Duration {
		v := os.Getenv(k)
		if v == "" {
			return def
		}
		d, err := time.ParseDuration(v)
		if err != nil {
			problems = append(problems, fmt.Sprintf("%s: %v", k, err))
			return def
		}
		return d
	}

	pub := strings.TrimSuffix(os.Getenv("PUBLIC_URL"), "/")
	issuer := strings.TrimSuffix(os.Getenv("LTI_ISSUER"), "/")
	env := Env(envOr("APP_ENV", string(EnvDevelopment)))

	c := Config{
		Env:       env,
		HTTPAddr:  envOr("HTTP_ADDR", ":8080"),
		PublicURL: pub,
		LogLevel:  envOr("LOG_LEVEL", "info"),

		DBDriver: envOr("DB_DRIVER", "sqlite"),
		DBDSN:    os.Getenv("DB_DSN"),

		LTIIssuer:     issuer,
		LTIClientID:   os.Getenv("LTI_CLIENT_ID"),
		LTIKeySetURL:  os.Getenv("LTI_KEY_SET_URL"),
		LTIAuthURL:    envOr("LTI_AUTH_URL", defaultIfSet(issuer, "/api/lti/authorize_redirect")),
		LTILaunchURL:  envOr("LTI_LAUNCH_URL", defaultIfSet(pub, "/api/lti/launch")),
		LTIPrivateKey: pem(os.Getenv("LTI_PRIVATE_KEY")),
		LTIPublicKey:  pem(os.Getenv("LTI_PUBLIC_KEY")),
		LTIKID:        envOr("LTI_KID", "lti-key-1"),

		EncryptionSecret: os.Getenv("ENCRYPTION_SECRET"),
		OpenAIAPIURL:     envOr("OPENAI_API_URL", "https://api.openai.com/v1"),
		RedisURL:         os.Getenv("REDIS_URL"),
		CORSOrigins:      csvOr("CORS_ORIGINS", "http://localhost:3000"),
		TrustProxy:       envBool("TRUST_PROXY", false),

		SessionTTL:           dur("SESSION_TTL", 24*time.Hour),
		SessionSweepInterval: dur("SESSION_SWEEP_INTERVAL", time.Hour),
		KeySetMaxAge:         dur("KEYSET_MAX_AGE", 10*time.Minute),
		KeySetCooldown:       dur("KEYSET_COOLDOWN", 30*time.Second),
		ClockSkew:            dur("CLOCK_SKEW", 30*time.Second),

		RateLimitRPS:   envFloat("RATE_LIMIT_RPS", 5, &problems),
		RateLimitBurst: envInt("RATE_LIMIT_BURST", 20, &problems),
	}

	if err := validate.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if !errors.As(err, &verrs) {
			return Config{}, err
		}
		for _, fe := range verrs {
			problems = append(problems, fmt.Sprintf("%s: failed %q", fe.Field(), fe.Tag()))
		}
	}
	if c.Production() && c.LTIPrivateKey == "" {
		problems = append(problems, "LTIPrivateKey: required in production")
	}
	if len(problems) > 0 {
		return Config{}, &Error{Problems: problems}
	}
	return c, nil
}

func defaultIfSet(base, path string) string {
	if base == "" {
		return ""
	}
	return base + path
}

// PEM blocks passed through env files usually carry literal "\n".
func pem(v string) string {
	return strings.ReplaceAll(v, `\n`, "\n")
}

func envOr(k, def string) string {
	v := os.Getenv(k)
	if v == "" {
		return def
	}
	return v
}

func envBool(k string, def bool) bool {
	switch os.Getenv(k) {
	case "1", "true", "TRUE", "yes", "YES":
		return true
	case "0", "false", "FALSE", "no", "NO":
		return false
	default:
		return def
	}
}

func envInt(k string, def int, problems *[]string) int {
	v := os.Getenv(k)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		*problems = append(*problems, fmt.Sprintf("%s: %v", k, err))
		return def
	}
	return n
}

func envFloat(k string, def float64, problems *[]string) float64 {
	v := os.Getenv(k)
	if v == "" {
		return def
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		*problems = append(*problems, fmt.Sprintf("%s: %v", k, err))
		return def
	}
	return f
}

func csvOr(k, def string) []string {
	v := envOr(k, def)
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if s := strings.TrimSpace(p); s != "" {
			out = append(out, s)
		}
	}
	return out
}
