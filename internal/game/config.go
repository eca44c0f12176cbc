package game

import (
	"os"
	"strconv"
	"time"
)

const (
	MIN_MULTIPLIER = 1.01
	MAX_MULTIPLIER = 10000.00
	HOUSE_EDGE     = 0.01 // 1%

	HASH_PREFIX_LEN = 13 // 52 bits of the combined hash

	DEFAULT_CLIENT_SEED = "crashsub000defaultseed"
	MIN_CLIENT_SEED_LEN = 6
)

// Config carries every round-level tunable. Defaults match production;
// tests shrink the timing knobs so a full round runs in milliseconds.
type Config struct {
	BettingDuration   time.Duration
	TickInterval      time.Duration
	EndHold           time.Duration
	GrowthRate        float64
	DrainPollInterval time.Duration

	MinStake        float64
	MaxStake        float64
	MinAutoCashout  float64
	MaxBetsPerUser  int
	MaxCashoutsPer  int
	BatchSize       int
	BatchInterval   time.Duration
	MaxTopStakers   int
	MaxSeedContribs int
	HistorySize     int

	PersistMaxAttempts int
	PersistBackoff     time.Duration
}

func DefaultConfig() Config {
	return Config{
		BettingDuration:   5 * time.Second,
		TickInterval:      100 * time.Millisecond,
		EndHold:           2500 * time.Millisecond,
		GrowthRate:        0.006,
		DrainPollInterval: 500 * time.Millisecond,

		MinStake:        1.0,
		MaxStake:        10000.0,
		MinAutoCashout:  MIN_MULTIPLIER,
		MaxBetsPerUser:  2,
		MaxCashoutsPer:  4,
		BatchSize:       100,
		BatchInterval:   200 * time.Millisecond,
		MaxTopStakers:   20,
		MaxSeedContribs: 50,
		HistorySize:     30,

		PersistMaxAttempts: 5,
		PersistBackoff:     250 * time.Millisecond,
	}
}

// ConfigFromEnv applies environment overrides to the defaults.
func ConfigFromEnv() Config {
	cfg := DefaultConfig()
	cfg.BettingDuration = getEnvAsDuration("GAME_BETTING_DURATION", cfg.BettingDuration)
	cfg.TickInterval = getEnvAsDuration("GAME_TICK_INTERVAL", cfg.TickInterval)
	cfg.EndHold = getEnvAsDuration("GAME_END_HOLD", cfg.EndHold)
	cfg.GrowthRate = getEnvAsFloat("GAME_GROWTH_RATE", cfg.GrowthRate)
	cfg.MinStake = getEnvAsFloat("GAME_MIN_STAKE", cfg.MinStake)
	cfg.MaxStake = getEnvAsFloat("GAME_MAX_STAKE", cfg.MaxStake)
	cfg.MaxTopStakers = getEnvAsInt("GAME_MAX_TOP_STAKERS", cfg.MaxTopStakers)
	cfg.HistorySize = getEnvAsInt("GAME_HISTORY_SIZE", cfg.HistorySize)
	return cfg
}

func getEnvAsInt(key string, defaultVal int) int {
	if val := os.Getenv(key); val != "" {
		if intVal, err := strconv.Atoi(val); err == nil {
			return intVal
		}
	}
	return defaultVal
}

func getEnvAsFloat(key string, defaultVal float64) float64 {
	if val := os.Getenv(key); val != "" {
		if f, err := strconv.ParseFloat(val, 64); err == nil {
			return f
		}
	}
	return defaultVal
}

func getEnvAsDuration(key string, defaultVal time.Duration) time.Duration {
	if val := os.Getenv(key); val != "" {
		if d, err := time.ParseDuration(val); err == nil {
			return d
		}
	}
	return defaultVal
}
