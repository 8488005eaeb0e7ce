package buildCFG

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/viper"
	"github.com/wb-go/wbf/dbpg"

	"eventAdmission/internal/mailer"
	"eventAdmission/internal/model"
	"eventAdmission/internal/scheduler"
	"eventAdmission/internal/telemetry"
)

const envPrefix = "EVENTS"

type ServerConfig struct {
	Port           string
	RequestTimeout time.Duration
	ShutdownGrace  time.Duration
}

type DBConfig struct {
	Driver     string
	SQLitePath string
	Migrations string
}

type RabbitConfig struct {
	Url      string
	Exchange string
	Queue    string
}

type RedisConfig struct {
	Addr     string
	Password string
	DB       int
	TTL      time.Duration
}

// LoadConfig reads config.yaml from the given directories. Every key can be
// overridden from the environment, e.g. EVENTS_DB_DRIVER=sqlite. A missing
// file is not an error.
func LoadConfig(paths ...string) (*viper.Viper, error) {
	v := viper.New()
	setDefaults(v)

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	for _, p := range paths {
		v.AddConfigPath(p)
	}
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}
	return v, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", "8080")
	v.SetDefault("server.request_timeout", 5*time.Second)
	v.SetDefault("server.shutdown_grace", 10*time.Second)

	v.SetDefault("db.driver", "memory")
	v.SetDefault("db.sqlite_path", "events.db")
	v.SetDefault("db.migrations", "migrations/postgres")
	v.SetDefault("db.postgres.host", "localhost")
	v.SetDefault("db.postgres.port", 5432)
	v.SetDefault("db.postgres.sslmode", "disable")
	v.SetDefault("db.postgres.max_open_conns", 20)
	v.SetDefault("db.postgres.max_idle_conns", 5)
	v.SetDefault("db.postgres.conn_max_lifetime", 30*time.Minute)

	v.SetDefault("rabbitmq.exchange", "events.notifications")
	v.SetDefault("rabbitmq.queue", "events.notifications.mail")

	v.SetDefault("redis.ttl", time.Minute)

	v.SetDefault("mail.port", 587)

	v.SetDefault("scheduler.interval", time.Minute)
	v.SetDefault("scheduler.reminder_lead", 24*time.Hour)

	v.SetDefault("telemetry.service_name", "event-admission")
}

func BuildServerConfig(v *viper.Viper, log *zerolog.Logger) ServerConfig {
	cfg := ServerConfig{
		Port:           v.GetString("server.port"),
		RequestTimeout: v.GetDuration("server.request_timeout"),
		ShutdownGrace:  v.GetDuration("server.shutdown_grace"),
	}
	if cfg.RequestTimeout <= 0 {
		log.Warn().Dur("request_timeout", cfg.RequestTimeout).Msg("non-positive request timeout, using 5s")
		cfg.RequestTimeout = 5 * time.Second
	}
	return cfg
}

func BuildDBConfig(v *viper.Viper, log *zerolog.Logger) (DBConfig, error) {
	cfg := DBConfig{
		Driver:     strings.ToLower(v.GetString("db.driver")),
		SQLitePath: v.GetString("db.sqlite_path"),
		Migrations: v.GetString("db.migrations"),
	}
	switch cfg.Driver {
	case "memory", "postgres", "sqlite":
	default:
		return DBConfig{}, fmt.Errorf("unknown db driver %q", cfg.Driver)
	}
	log.Info().Str("driver", cfg.Driver).Msg("database driver selected")
	return cfg, nil
}

// BuildPostgresConfig returns the master DSN, replica DSNs and pool options.
func BuildPostgresConfig(v *viper.Viper, log *zerolog.Logger) (string, []string, *dbpg.Options, error) {
	host := v.GetString("db.postgres.host")
	port := v.GetInt("db.postgres.port")
	user := v.GetString("db.postgres.user")
	dbName := v.GetString("db.postgres.dbname")
	if user == "" || dbName == "" {
		return "", nil, nil, errors.New("db.postgres.user and db.postgres.dbname are required")
	}

	masterDSN := fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		host, port, user, v.GetString("db.postgres.password"), dbName, v.GetString("db.postgres.sslmode"))
	slaves := v.GetStringSlice("db.postgres.slaves")

	log.Info().
		Str("host", host).
		Int("port", port).
		Str("dbname", dbName).
		Int("replicas", len(slaves)).
		Msg("postgres config loaded")

	return masterDSN, slaves, &dbpg.Options{
		MaxOpenConns:    v.GetInt("db.postgres.max_open_conns"),
		MaxIdleConns:    v.GetInt("db.postgres.max_idle_conns"),
		ConnMaxLifetime: v.GetDuration("db.postgres.conn_max_lifetime"),
	}, nil
}

// BuildRabbitConfig returns ok=false when no broker URL is configured.
func BuildRabbitConfig(v *viper.Viper, log *zerolog.Logger) (RabbitConfig, bool, error) {
	cfg := RabbitConfig{
		Url:      v.GetString("rabbitmq.url"),
		Exchange: v.GetString("rabbitmq.exchange"),
		Queue:    v.GetString("rabbitmq.queue"),
	}
	if cfg.Url == "" {
		log.Info().Msg("rabbitmq url not set, notifications will only be logged")
		return cfg, false, nil
	}
	if cfg.Exchange == "" || cfg.Queue == "" {
		return RabbitConfig{}, false, errors.New("rabbitmq.exchange and rabbitmq.queue are required")
	}
	return cfg, true, nil
}

// BuildRedisConfig returns ok=false when no address is configured.
func BuildRedisConfig(v *viper.Viper) (RedisConfig, bool, error) {
	cfg := RedisConfig{
		Addr:     v.GetString("redis.addr"),
		Password: v.GetString("redis.password"),
		DB:       v.GetInt("redis.db"),
		TTL:      v.GetDuration("redis.ttl"),
	}
	if cfg.Addr != "" && cfg.TTL <= 0 {
		return RedisConfig{}, false, fmt.Errorf("redis.ttl must be positive, got %s", cfg.TTL)
	}
	return cfg, cfg.Addr != "", nil
}

func BuildMailConfig(v *viper.Viper) (mailer.Config, error) {
	cfg := mailer.Config{
		Host:     v.GetString("mail.host"),
		Port:     v.GetInt("mail.port"),
		Username: v.GetString("mail.username"),
		Password: v.GetString("mail.password"),
		From:     v.GetString("mail.from"),
	}
	if cfg.Host != "" && cfg.From == "" {
		return mailer.Config{}, errors.New("mail.from is required when mail.host is set")
	}
	return cfg, nil
}

func BuildSchedulerConfig(v *viper.Viper) (scheduler.Config, error) {
	cfg := scheduler.Config{
		Interval:     v.GetDuration("scheduler.interval"),
		ReminderLead: v.GetDuration("scheduler.reminder_lead"),
	}
	if cfg.Interval <= 0 {
		return scheduler.Config{}, fmt.Errorf("scheduler.interval must be positive, got %s", cfg.Interval)
	}
	if cfg.ReminderLead < 0 {
		return scheduler.Config{}, fmt.Errorf("scheduler.reminder_lead must not be negative, got %s", cfg.ReminderLead)
	}
	return cfg, nil
}

func BuildTelemetryConfig(v *viper.Viper) telemetry.Config {
	return telemetry.Config{
		Enabled:     v.GetBool("telemetry.enabled"),
		Endpoint:    v.GetString("telemetry.endpoint"),
		ServiceName: v.GetString("telemetry.service_name"),
	}
}

// SeedMember is a directory row loaded at startup for the memory and sqlite
// backends, which have no external user service.
type SeedMember struct {
	UserID      int64  `mapstructure:"user_id"`
	CommunityID int64  `mapstructure:"community_id"`
	Role        string `mapstructure:"role"`
	Email       string `mapstructure:"email"`
	FullName    string `mapstructure:"full_name"`
}

func BuildSeedMembers(v *viper.Viper) ([]SeedMember, error) {
	var members []SeedMember
	if err := v.UnmarshalKey("seed", &members); err != nil {
		return nil, fmt.Errorf("parse seed members: %w", err)
	}
	for i, m := range members {
		if m.UserID <= 0 || m.CommunityID <= 0 {
			return nil, fmt.Errorf("seed[%d]: user_id and community_id must be positive", i)
		}
		switch model.Role(m.Role) {
		case model.RoleMember, model.RoleModerator, model.RoleAdmin:
		default:
			return nil, fmt.Errorf("seed[%d]: unknown role %q", i, m.Role)
		}
	}
	return members, nil
}
