package game

import (
	"os"
	"strconv"
	"time"

	_ "github.com/joho/godotenv/autoload"
)

// Config holds the operator-tunable parameters of the engine. Everything
// here is policy, not mechanism: changing a value never changes the fairness
// or settlement guarantees.
type Config struct {
	BettingWindow time.Duration // length of the Waiting phase
	RevealDelay   time.Duration // pause after crash before the next round
	Tick          time.Duration // broadcast/auto-cashout tick during Playing
	HistorySize   int
	GrowthBase    float64
	HouseEdge     float64
	MaxMultiplier float64
	MinBet        float64
	MaxBet        float64
}

// ConfigFromEnv reads the engine configuration from MANIA_* environment
// variables, falling back to the defaults the original game shipped with.
func ConfigFromEnv() Config {
	return Config{
		BettingWindow: time.Duration(getEnvAsFloat("MANIA_BETTING_SECONDS", 5) * float64(time.Second)),
		RevealDelay:   time.Duration(getEnvAsFloat("MANIA_REVEAL_SECONDS", 3) * float64(time.Second)),
		Tick:          100 * time.Millisecond,
		HistorySize:   getEnvAsInt("MANIA_HISTORY_SIZE", 20),
		GrowthBase:    getEnvAsFloat("MANIA_GROWTH_BASE", DefaultGrowthBase),
		HouseEdge:     getEnvAsFloat("MANIA_HOUSE_EDGE", 0.01),
		MaxMultiplier: getEnvAsFloat("MANIA_MAX_MULTIPLIER", 100.0),
		MinBet:        getEnvAsFloat("MANIA_MIN_BET", 1.0),
		MaxBet:        getEnvAsFloat("MANIA_MAX_BET", 10000.0),
	}
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
		if floatVal, err := strconv.ParseFloat(val, 64); err == nil {
			return floatVal
		}
	}
	return defaultVal
}
