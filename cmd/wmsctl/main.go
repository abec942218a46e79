package main

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/wmsinsight/wmsinsight/internal/cli/wmsctl"
)

func main() {
	timeout := parseDurationWithDefault(strings.TrimSpace(os.Getenv("WMS_CLI_TIMEOUT")), 60*time.Second)
	options := wmsctl.Options{
		BaseURL: envOr("WMS_API_URL", "http://localhost:8080"),
		APIKey:  envOr("WMS_CLI_API_KEY", strings.TrimSpace(os.Getenv("OPENAI_API_KEY"))),
		Timeout: timeout,
		Stdout:  os.Stdout,
		Stderr:  os.Stderr,
	}

	code := wmsctl.Run(context.Background(), os.Args[1:], options)
	os.Exit(code)
}

func envOr(key, fallback string) string {
	if value := strings.TrimSpace(os.Getenv(key)); value != "" {
		return value
	}
	return fallback
}

func parseDurationWithDefault(raw string, fallback time.Duration) time.Duration {
	if raw == "" {
		return fallback
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil {
		_, _ = fmt.Fprintf(os.Stderr, "invalid WMS_CLI_TIMEOUT %q; using %s\n", raw, fallback)
		return fallback
	}
	return parsed
}
