package core

import (
	"fmt"
	"log"
	"net"
	"net/mail"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

type (
	Config struct {
		Env              string
		Build            string
		Debug            bool
		TestMode         bool
		AppName          string
		SecretKey        string
		DefaultFromEmail mail.Address
		AdminEmail       mail.Address
		FrontendBaseURL  string
		SendgridApiKey   string
		RollbarToken     string

		PasswordResetTimeoutDelta time.Duration

		Server   ServerConfig
		Database DatabaseConfig
		Booking  BookingConfig
		Storage  StorageConfig
	}

	ServerConfig struct {
		Host                      string
		Address                   string
		DebugHost                 string
		ReadTimeout               time.Duration
		WriteTimeout              time.Duration
		ShutdownTimeout           time.Duration
		JWTExpirationDelta        time.Duration
		JWTRefreshExpirationDelta time.Duration
	}

	DatabaseConfig struct {
		Engine        string
		Host          string
		Port          int
		Name          string
		User          string
		Password      string
		AdminUser     string
		AdminPassword string
		DisableTLS    bool
	}

	BookingConfig struct {
		CancellationNoticeHours int
		Timezone                string
	}

	StorageConfig struct {
		Backend        string // disk | supabase
		DiskRoot       string
		PublicBaseURL  string
		SupabaseURL    string
		SupabaseKey    string
		Bucket         string
		MaxUploadBytes int64
	}
)

func (c DatabaseConfig) Address() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}

// Location returns the time zone wall-clock booking input is interpreted in.
func (c BookingConfig) Location() *time.Location {
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

func setDefaults(v *viper.Viper) {
	v.SetTypeByDefaultValue(true)

	v.SetDefault("debug", true)
	v.SetDefault("build", "develop")
	v.SetDefault("appName", "Tutorly")
	v.SetDefault("secretKey", "poq5-wer)enb$+57=dz&uoxh2(h!x)#*c2(#yg4h^$cegm2emy")
	v.SetDefault("defaultFromEmail", "Tutorly <noreply@localhost>")
	v.SetDefault("adminEmail", "Tutorly Support <support@localhost>")
	v.SetDefault("frontendBaseURL", "http://localhost:3000")
	v.SetDefault("sendgridApiKey", "")
	v.SetDefault("rollbarToken", "")
	v.SetDefault("passwordResetTimeoutDelta", 3*24*time.Hour)

	v.SetDefault("server.host", "localhost")
	v.SetDefault("server.address", ":8000")
	v.SetDefault("server.debugHost", ":4000")
	v.SetDefault("server.readTimeout", 5*time.Second)
	v.SetDefault("server.writeTimeout", 10*time.Second)
	v.SetDefault("server.shutdownTimeout", 10*time.Second)
	v.SetDefault("server.jwtExpirationDelta", 7*24*time.Hour)
	v.SetDefault("server.jwtRefreshExpirationDelta", 4*time.Hour)

	v.SetDefault("database.engine", "postgres")
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.name", "tutorly")
	v.SetDefault("database.user", "tutorly")
	v.SetDefault("database.password", "tutorly")
	v.SetDefault("database.adminUser", "postgres")
	v.SetDefault("database.adminPassword", "postgres")
	v.SetDefault("database.disableTLS", true)

	v.SetDefault("booking.cancellationNoticeHours", 24)
	v.SetDefault("booking.timezone", "UTC")

	v.SetDefault("storage.backend", "disk")
	v.SetDefault("storage.diskRoot", filepath.Join(os.TempDir(), "tutorly-uploads"))
	v.SetDefault("storage.publicBaseURL", "http://localhost:8000/uploads")
	v.SetDefault("storage.supabaseURL", "")
	v.SetDefault("storage.supabaseKey", "")
	v.SetDefault("storage.bucket", "attachments")
	v.SetDefault("storage.maxUploadBytes", 10<<20)
}

// NewConfig loads the configuration of the current ENV (DEV by default, TEST, QA, PROD).
// Values come from defaults, then config/.env.<env> if present, then the environment prefixed with ENV.
func NewConfig() *Config {
	v := viper.New()
	setDefaults(v)

	env := strings.ToUpper(os.Getenv("ENV"))
	switch env {
	case "":
		env = "DEV"
	case "TEST":
		v.SetDefault("testMode", true)
	}
	v.SetEnvPrefix(env)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	// load .env if it exists (ignore if it does not)
	dotEnvPath := filepath.Join("config", ".env."+strings.ToLower(env))
	if _, err := os.Stat(dotEnvPath); err == nil {
		if err := godotenv.Load(dotEnvPath); err != nil {
			log.Fatalf("config.godotenv(%s): %v", dotEnvPath, err)
		}
	} else if !os.IsNotExist(err) {
		log.Fatalf("config.os.Stat(%s): %v", dotEnvPath, err)
	}
	v.AutomaticEnv()

	return fromViper(env, v)
}

func fromViper(env string, v *viper.Viper) *Config {
	return &Config{
		Env:              env,
		Build:            v.GetString("build"),
		Debug:            v.GetBool("debug"),
		TestMode:         v.GetBool("testMode"),
		AppName:          v.GetString("appName"),
		SecretKey:        v.GetString("secretKey"),
		DefaultFromEmail: mustParseAddress(v.GetString("defaultFromEmail")),
		AdminEmail:       mustParseAddress(v.GetString("adminEmail")),
		FrontendBaseURL:  strings.TrimRight(v.GetString("frontendBaseURL"), "/"),
		SendgridApiKey:   v.GetString("sendgridApiKey"),
		RollbarToken:     v.GetString("rollbarToken"),

		PasswordResetTimeoutDelta: v.GetDuration("passwordResetTimeoutDelta"),
		Server: ServerConfig{
			Host:                      v.GetString("server.host"),
			Address:                   v.GetString("server.address"),
			DebugHost:                 v.GetString("server.debugHost"),
			ReadTimeout:               v.GetDuration("server.readTimeout"),
			WriteTimeout:              v.GetDuration("server.writeTimeout"),
			ShutdownTimeout:           v.GetDuration("server.shutdownTimeout"),
			JWTExpirationDelta:        v.GetDuration("server.jwtExpirationDelta"),
			JWTRefreshExpirationDelta: v.GetDuration("server.jwtRefreshExpirationDelta"),
		},
		Database: DatabaseConfig{
			Engine:        v.GetString("database.engine"),
			Host:          v.GetString("database.host"),
			Port:          v.GetInt("database.port"),
			Name:          v.GetString("database.name"),
			User:          v.GetString("database.user"),
			Password:      v.GetString("database.password"),
			AdminUser:     v.GetString("database.adminUser"),
			AdminPassword: v.GetString("database.adminPassword"),
			DisableTLS:    v.GetBool("database.disableTLS"),
		},
		Booking: BookingConfig{
			CancellationNoticeHours: v.GetInt("booking.cancellationNoticeHours"),
			Timezone:                v.GetString("booking.timezone"),
		},
		Storage: StorageConfig{
			Backend:        v.GetString("storage.backend"),
			DiskRoot:       v.GetString("storage.diskRoot"),
			PublicBaseURL:  strings.TrimRight(v.GetString("storage.publicBaseURL"), "/"),
			SupabaseURL:    strings.TrimRight(v.GetString("storage.supabaseURL"), "/"),
			SupabaseKey:    v.GetString("storage.supabaseKey"),
			Bucket:         v.GetString("storage.bucket"),
			MaxUploadBytes: v.GetInt64("storage.maxUploadBytes"),
		},
	}
}

func mustParseAddress(addr string) mail.Address {
	a, err := mail.ParseAddress(addr)
	if err != nil {
		log.Fatal(fmt.Errorf("config.mail.ParseAddress(%s): %v", addr, err))
	}
	return *a
}

// NewTestConfig returns the default configuration in TEST mode, ignoring the environment.
func NewTestConfig() *Config {
	v := viper.New()
	setDefaults(v)
	v.Set("testMode", true)
	v.Set("server.jwtExpirationDelta", 10*time.Minute)
	return fromViper("TEST", v)
}
