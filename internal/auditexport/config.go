package auditexport

import (
	"fmt"
	"io"
	"strings"

	"github.com/fleetcheck/fleetcheck/internal/platform/env"
)

const (
	DestinationNone   = "none"
	DestinationStdout = "stdout"
)

// Config controls audit export format and destination.
type Config struct {
	Format      string
	Destination string
}

func ConfigFromEnv() (Config, error) {
	cfg := Config{
		Format:      env.String("FLEETCHECK_AUDIT_EXPORT_FORMAT", "ndjson"),
		Destination: env.String("FLEETCHECK_AUDIT_EXPORT_DESTINATION", DestinationNone),
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) Validate() error {
	format := strings.ToLower(strings.TrimSpace(c.Format))
	if format == "" {
		format = "ndjson"
	}
	if format != "ndjson" {
		return fmt.Errorf("unsupported audit export format: %s", format)
	}
	switch c.destination() {
	case DestinationNone, DestinationStdout:
		return nil
	default:
		return fmt.Errorf("unsupported audit export destination: %s", c.Destination)
	}
}

func (c Config) destination() string {
	d := strings.ToLower(strings.TrimSpace(c.Destination))
	if d == "" {
		return DestinationNone
	}
	return d
}

// New builds the exporter for c. stdout is where events go when the
// destination is "stdout".
func New(c Config, stdout io.Writer) (Exporter, error) {
	if err := c.Validate(); err != nil {
		return nil, err
	}
	if c.destination() == DestinationStdout && stdout != nil {
		return NewNDJSONExporter(stdout), nil
	}
	return NoopExporter{}, nil
}
