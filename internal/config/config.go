package config

import (
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	App    AppConfig    `mapstructure:"app"`
	Server ServerConfig `mapstructure:"server"`
	Log    LogConfig    `mapstructure:"log"`
	DB     DBConfig     `mapstructure:"db"`
	Redis  RedisConfig  `mapstructure:"redis"`

	Cycle         CycleConfig         `mapstructure:"cycle"`
	Chain         ChainConfig         `mapstructure:"chain"`
	Consensus     ConsensusConfig     `mapstructure:"consensus"`
	Resolution    ResolutionConfig    `mapstructure:"resolution"`
	Settlement    SettlementConfig    `mapstructure:"settlement"`
	Oracle        OracleConfig        `mapstructure:"oracle"`
	Weather       WeatherConfig       `mapstructure:"weather"`
	SignalSources SignalSourcesConfig `mapstructure:"signal_sources"`
	Risk          RiskConfig          `mapstructure:"risk"`
}

type AppConfig struct {
	Env string `mapstructure:"env"`
}

type ServerConfig struct {
	HTTPAddr string `mapstructure:"http_addr"`
}

type LogConfig struct {
	Level             string `mapstructure:"level"`
	Encoding          string `mapstructure:"encoding"`
	Development       bool   `mapstructure:"development"`
	Sampling          bool   `mapstructure:"sampling"`
	DisableCaller     bool   `mapstructure:"disable_caller"`
	DisableStacktrace bool   `mapstructure:"disable_stacktrace"`
}

type DBConfig struct {
	DSN             string        `mapstructure:"dsn"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	ConnMaxIdleTime time.Duration `mapstructure:"conn_max_idle_time"`
	Timezone        string        `mapstructure:"timezone"`
}

type RedisConfig struct {
	Enabled  bool          `mapstructure:"enabled"`
	Addr     string        `mapstructure:"addr"`
	Password string        `mapstructure:"password"`
	DB       int           `mapstructure:"db"`
	LockTTL  time.Duration `mapstructure:"lock_ttl"`
}

// CycleConfig drives the block-height phase scheduler.
// PhaseLengths are PLANTING, WORKING, REVEALING, SETTLING in blocks.
type CycleConfig struct {
	StartBlock   int64         `mapstructure:"start_block"`
	CycleLength  int64         `mapstructure:"cycle_length"`
	PhaseLengths []int64       `mapstructure:"phase_lengths"`
	PollInterval time.Duration `mapstructure:"poll_interval"`
	WagerWindow  []string      `mapstructure:"wager_window"`
}

type ChainConfig struct {
	// Source is "http", "ws" or "clock". Endpoint is the ws URL for "ws".
	Source        string        `mapstructure:"source"`
	Endpoint      string        `mapstructure:"endpoint"`
	Timeout       time.Duration `mapstructure:"timeout"`
	BlockInterval time.Duration `mapstructure:"block_interval"`
	// GenesisTime is RFC3339; used by the clock source.
	GenesisTime   string        `mapstructure:"genesis_time"`
}

type ConsensusConfig struct {
	DeadZone      float64            `mapstructure:"dead_zone"`
	MinValidVotes int                `mapstructure:"min_valid_votes"`
	DefaultWeight float64            `mapstructure:"default_weight"`
	Weights       map[string]float64 `mapstructure:"weights"`
}

type ResolutionConfig struct {
	Threshold             float64               `mapstructure:"threshold"`
	WeightsWithWeather    WeightsWithWeather    `mapstructure:"weights_with_weather"`
	WeightsWithoutWeather WeightsWithoutWeather `mapstructure:"weights_without_weather"`
}

type WeightsWithWeather struct {
	Consensus float64 `mapstructure:"consensus"`
	Weather   float64 `mapstructure:"weather"`
	Wager     float64 `mapstructure:"wager"`
}

type WeightsWithoutWeather struct {
	Consensus float64 `mapstructure:"consensus"`
	Wager     float64 `mapstructure:"wager"`
}

type SettlementConfig struct {
	// NoWinnerPolicy is "retain" or "refund".
	NoWinnerPolicy string  `mapstructure:"no_winner_policy"`
	SettleDegraded bool    `mapstructure:"settle_degraded"`
	FarmGoodBonus  float64 `mapstructure:"farm_good_bonus"`
	FarmBadPenalty float64 `mapstructure:"farm_bad_penalty"`
	FarmFloor      float64 `mapstructure:"farm_floor"`
	YieldPerStep   float64 `mapstructure:"yield_per_step"`
}

type OracleConfig struct {
	Endpoint string        `mapstructure:"endpoint"`
	Symbols  []string      `mapstructure:"symbols"`
	Timeout  time.Duration `mapstructure:"timeout"`
}

type WeatherConfig struct {
	Enabled   bool            `mapstructure:"enabled"`
	Sources   []WeatherSource `mapstructure:"sources"`
	Locations []string        `mapstructure:"locations"`
	Timeout   time.Duration   `mapstructure:"timeout"`
}

type WeatherSource struct {
	Name      string  `mapstructure:"name"`
	Endpoint  string  `mapstructure:"endpoint"`
	APIKeyEnv string  `mapstructure:"api_key_env"`
	Weight    float64 `mapstructure:"weight"`
}

// RiskConfig caps wager stakes. Zero disables a limit.
type RiskConfig struct {
	MaxStake             float64 `mapstructure:"max_stake"`
	MaxUserStakePerCycle float64 `mapstructure:"max_user_stake_per_cycle"`
	MaxPoolStake         float64 `mapstructure:"max_pool_stake"`
}

type SignalSourcesConfig struct {
	Enabled []string      `mapstructure:"enabled"`
	Timeout time.Duration `mapstructure:"timeout"`
}

func Load(path string, envOnly bool) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("AGRO")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.SetConfigFile(path)
	v.SetConfigType("yaml")
	v.AutomaticEnv()
	SetDefaults(v)

	if !envOnly {
		if err := v.ReadInConfig(); err != nil {
			return Config{}, err
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func SetDefaults(v *viper.Viper) {
	v.SetDefault("app.env", "dev")
	v.SetDefault("server.http_addr", ":8080")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.encoding", "console")
	v.SetDefault("log.development", true)
	v.SetDefault("log.sampling", false)
	v.SetDefault("log.disable_caller", false)
	v.SetDefault("log.disable_stacktrace", false)
	v.SetDefault("db.dsn", "")
	v.SetDefault("db.max_open_conns", 20)
	v.SetDefault("db.max_idle_conns", 5)
	v.SetDefault("db.conn_max_lifetime", "30m")
	v.SetDefault("db.conn_max_idle_time", "5m")
	v.SetDefault("db.timezone", "UTC")
	v.SetDefault("redis.enabled", false)
	v.SetDefault("redis.addr", "")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.lock_ttl", "10m")

	v.SetDefault("cycle.start_block", 0)
	v.SetDefault("cycle.cycle_length", 100)
	v.SetDefault("cycle.phase_lengths", []int64{60, 30, 10, 5})
	v.SetDefault("cycle.poll_interval", "5s")
	v.SetDefault("cycle.wager_window", []string{"PLANTING"})

	v.SetDefault("chain.source", "clock")
	v.SetDefault("chain.endpoint", "")
	v.SetDefault("chain.timeout", "5s")
	v.SetDefault("chain.block_interval", "6s")
	v.SetDefault("chain.genesis_time", "2026-01-01T00:00:00Z")

	v.SetDefault("consensus.dead_zone", 0.05)
	v.SetDefault("consensus.min_valid_votes", 1)
	v.SetDefault("consensus.default_weight", 1.0)

	v.SetDefault("resolution.threshold", 50.0)
	v.SetDefault("resolution.weights_with_weather.consensus", 0.35)
	v.SetDefault("resolution.weights_with_weather.weather", 0.40)
	v.SetDefault("resolution.weights_with_weather.wager", 0.25)
	v.SetDefault("resolution.weights_without_weather.consensus", 0.60)
	v.SetDefault("resolution.weights_without_weather.wager", 0.40)

	v.SetDefault("settlement.no_winner_policy", "retain")
	v.SetDefault("settlement.settle_degraded", false)
	v.SetDefault("settlement.farm_good_bonus", 0.5)
	v.SetDefault("settlement.farm_bad_penalty", 0.5)
	v.SetDefault("settlement.farm_floor", 0.1)
	v.SetDefault("settlement.yield_per_step", 0.1)

	v.SetDefault("oracle.endpoint", "https://api.binance.com/api/v3/ticker/24hr")
	v.SetDefault("oracle.symbols", []string{"BTCUSDT", "ETHUSDT", "SOLUSDT"})
	v.SetDefault("oracle.timeout", "10s")

	// Real-weather scoring stays off until sources are configured.
	v.SetDefault("weather.enabled", false)
	v.SetDefault("weather.locations", []string{"des-moines", "fresno", "lincoln"})
	v.SetDefault("weather.timeout", "15s")

	v.SetDefault("signal_sources.enabled", []string{
		"momentum", "mean_reversion", "volatility", "breadth", "trend_strength", "data_quality", "contrarian",
	})
	v.SetDefault("signal_sources.timeout", "3s")

	v.SetDefault("risk.max_stake", 0)
	v.SetDefault("risk.max_user_stake_per_cycle", 0)
	v.SetDefault("risk.max_pool_stake", 0)
}
