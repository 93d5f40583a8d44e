package circuitbreaker

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// ConfigFromEnv reads CB_<TARGET>_* overrides on top of DefaultConfig,
// for example CB_TOOLS_FAILURE_THRESHOLD or CB_WEBHOOK_TIMEOUT.
func ConfigFromEnv(target string) Config {
	prefix := "CB_" + strings.ToUpper(target) + "_"
	def := DefaultConfig()
	return Config{
		MaxRequests:      getEnvUint32(prefix+"MAX_REQUESTS", def.MaxRequests),
		Interval:         getEnvDuration(prefix+"INTERVAL", def.Interval),
		Timeout:          getEnvDuration(prefix+"TIMEOUT", def.Timeout),
		FailureThreshold: getEnvUint32(prefix+"FAILURE_THRESHOLD", def.FailureThreshold),
		SuccessThreshold: getEnvUint32(prefix+"SUCCESS_THRESHOLD", def.SuccessThreshold),
	}
}

func getEnvUint32(key string, defaultValue uint32) uint32 {
	if val := os.Getenv(key); val != "" {
		if parsed, err := strconv.ParseUint(val, 10, 32); err == nil {
			return uint32(parsed)
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if val := os.Getenv(key); val != "" {
		if parsed, err := time.ParseDuration(val); err == nil {
			return parsed
		}
	}
	return defaultValue
}
