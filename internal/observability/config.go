package observability

import (
	"strings"

	"github.com/smallbiznis/cooptariff/internal/config"
)

// Config is the observability view of the application config.
type Config struct {
	ServiceName string
	Environment string
	Version     string

	LogLevel  string
	LogFormat string

	OtelEnabled          bool
	OtelExporterEndpoint string
	OtelExporterProtocol string
	OtelSamplingRatio    float64
}

func NewConfig(cfg config.Config) Config {
	ratio := cfg.OtelSamplingRatio
	if ratio <= 0 || ratio > 1 {
		ratio = 1
	}
	protocol := strings.ToLower(strings.TrimSpace(cfg.OtelProtocol))
	if protocol != "http" {
		protocol = "grpc"
	}

	return Config{
		ServiceName:          firstNonEmpty(cfg.AppName, "cooptariff"),
		Environment:          strings.TrimSpace(cfg.Environment),
		Version:              strings.TrimSpace(cfg.AppVersion),
		LogLevel:             strings.ToLower(firstNonEmpty(cfg.LogLevel, "info")),
		LogFormat:            strings.ToLower(firstNonEmpty(cfg.LogFormat, "json")),
		OtelEnabled:          cfg.OtelEnabled,
		OtelExporterEndpoint: strings.TrimSpace(cfg.OTLPEndpoint),
		OtelExporterProtocol: protocol,
		OtelSamplingRatio:    ratio,
	}
}

// Debug is on for debug logging and for development environments.
func (c Config) Debug() bool {
	if strings.EqualFold(strings.TrimSpace(c.LogLevel), "debug") {
		return true
	}
	switch strings.ToLower(strings.TrimSpace(c.Environment)) {
	case "dev", "development", "local", "test":
		return true
	default:
		return false
	}
}

func firstNonEmpty(values ...string) string {
	for _, value := range values {
		if trimmed := strings.TrimSpace(value); trimmed != "" {
			return trimmed
		}
	}
	return ""
}
