package flags

import (
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/ruteri/social-image/api"
	"github.com/ruteri/social-image/common"
	"github.com/urfave/cli/v2"
)

func SetupLogger(cCtx *cli.Context) (log *slog.Logger) {
	return setupLogger(cCtx, nil)
}

// SetupStderrLogger is SetupLogger for tools that write results to stdout.
func SetupStderrLogger(cCtx *cli.Context) (log *slog.Logger) {
	return setupLogger(cCtx, os.Stderr)
}

func setupLogger(cCtx *cli.Context, out io.Writer) (log *slog.Logger) {
	logJSON := cCtx.Bool(LogJsonFlag.Name)
	logDebug := cCtx.Bool(LogDebugFlag.Name)
	logUID := cCtx.Bool(LogUidFlag.Name)
	logService := cCtx.String(LogServiceFlag.Name)

	logger := common.SetupLogger(&common.LoggingOpts{
		Debug:   logDebug,
		JSON:    logJSON,
		Service: logService,
		Version: common.Version,
		Output:  out,
	})

	if logUID {
		id := uuid.Must(uuid.NewRandom())
		logger = logger.With("uid", id.String())
	}
	return logger
}

// ConfigureServer builds the HTTP server config. The write timeout is
// extended by renderTimeout, since cache misses render before responding.
func ConfigureServer(cCtx *cli.Context, logger *slog.Logger, listenAddr, metricsAddr string, renderTimeout time.Duration) *api.HTTPServerConfig {
	enablePprof := cCtx.Bool(PprofFlag.Name)
	drainDuration := time.Duration(cCtx.Int64(DrainSecondsFlag.Name)) * time.Second

	return &api.HTTPServerConfig{
		ListenAddr:               listenAddr,
		MetricsAddr:              metricsAddr,
		Log:                      logger,
		EnablePprof:              enablePprof,
		DrainDuration:            drainDuration,
		GracefulShutdownDuration: 30*time.Second + renderTimeout,
		ReadTimeout:              60 * time.Second,
		WriteTimeout:             30*time.Second + renderTimeout,
	}
}

var ConfigFileFlag = &cli.StringFlag{
	Name:    "config",
	Usage:   "TOML config file with [default], [<profile>] and [global] tables (default: ./App.toml if present)",
	EnvVars: []string{"APP_CONFIG"},
}

var ServerAddrFlag = &cli.StringFlag{
	Name:    "server",
	Value:   "http://127.0.0.1:8080",
	Usage:   "base URL of the social-image server",
	EnvVars: []string{"IMGCTL_SERVER"},
}

var APIKeyFlag = &cli.StringFlag{
	Name:    "api-key",
	Usage:   "shared key sent in the X-API-KEY header",
	EnvVars: []string{"IMGCTL_API_KEY"},
}

var LogJsonFlag = &cli.BoolFlag{
	Name:  "log-json",
	Value: false,
	Usage: "log in JSON format",
}
var LogDebugFlag = &cli.BoolFlag{
	Name:  "log-debug",
	Value: false,
	Usage: "log debug messages",
}
var LogUidFlag = &cli.BoolFlag{
	Name:  "log-uid",
	Value: false,
	Usage: "generate a uuid and add to all log messages",
}
var LogServiceFlag = &cli.StringFlag{
	Name:  "log-service",
	Value: common.PackageName,
	Usage: "add 'service' tag to logs",
}

var PprofFlag = &cli.BoolFlag{
	Name:  "pprof",
	Value: false,
	Usage: "enable pprof debug endpoint",
}
var DrainSecondsFlag = &cli.Int64Flag{
	Name:  "drain-seconds",
	Value: 45,
	Usage: "seconds to wait in drain HTTP request",
}

var LogFlags = []cli.Flag{
	LogJsonFlag,
	LogDebugFlag,
	LogUidFlag,
	LogServiceFlag,
}

var CommonFlags = append([]cli.Flag{
	PprofFlag,
	DrainSecondsFlag,
}, LogFlags...)
