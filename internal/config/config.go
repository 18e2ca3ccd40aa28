package config

import "github.com/caarlos0/env/v10"

// Config centraliza la configuración del servicio.
type Config struct {
	HTTPPort    string `env:"HTTP_PORT" envDefault:"8080"`
	DatabaseURL string `env:"DATABASE_URL,required"`

	// El guard de sesiones relee la identidad en cada request protegido,
	// asi que el pool se dimensiona aparte del default del driver.
	DBMaxConns int32 `env:"DB_MAX_CONNS" envDefault:"16"`
	DBMinConns int32 `env:"DB_MIN_CONNS" envDefault:"2"`

	JWTAccessSecret     string `env:"JWT_ACCESS_SECRET,required"`
	JWTRefreshSecret    string `env:"JWT_REFRESH_SECRET,required"`
	JWTAccessTTLMinutes int    `env:"JWT_ACCESS_TTL_MINUTES" envDefault:"15"`
	JWTRefreshTTLHours  int    `env:"JWT_REFRESH_TTL_HOURS" envDefault:"168"`

	SessionSweepMinutes int `env:"SESSION_SWEEP_MINUTES" envDefault:"60"`

	RedisAddr     string `env:"REDIS_ADDR"`
	RedisPassword string `env:"REDIS_PASSWORD"`
	RedisDB       int    `env:"REDIS_DB" envDefault:"0"`

	WSAllowedOrigins []string `env:"WS_ALLOWED_ORIGINS" envSeparator:"," envDefault:"localhost,127.0.0.1"`
}

// LoadConfig carga la configuración desde variables de entorno.
func LoadConfig() (*Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}
