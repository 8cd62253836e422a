/*
Package log provides per module zerolog loggers for the relayer.

Loggers are configured once, from a toml file, the first time one is created.
The file is looked up as ./relaylog.toml or at the path in RELAYER_LOGCONFIG.
Every field is optional:

 # default level of every module: debug/info/warn/error/fatal/panic
 level = "info"

 # console, console_no_color or json
 formatter = "console"

 # stdout, stderr or a file path
 out = "stderr"

 # print source file and line
 caller = false

 # time stamp layout, see time/format.go
 timefieldformat = "2006-01-02T15:04:05Z07:00"

 # a table per module overrides its level and output
 [writer]
 level = "debug"
 out = "writer.log"
*/
package log

import (
	"os"
	"strings"
	"sync"

	colorable "github.com/mattn/go-colorable"
	"github.com/rs/zerolog"
	"github.com/spf13/viper"
)

const (
	confFilePathKey     = "LOGCONFIG"
	confEnvPrefix       = "RELAYER"
	defaultConfFileName = "relaylog"
)

var (
	baseLogger  = zerolog.New(os.Stderr)
	baseLevel   = zerolog.InfoLevel
	logInitLock sync.Mutex
	isLogInit   = false
	viperConf   = viper.New()
)

// Logger is a zerolog logger tagged with its module name.
type Logger struct {
	*zerolog.Logger
	name  string
	level zerolog.Level
}

func loadConfigFile() {
	viperConf = viper.New()
	viperConf.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viperConf.SetEnvPrefix(confEnvPrefix)
	viperConf.AutomaticEnv()

	viperConf.SetConfigType("toml")
	viperConf.SetConfigName(defaultConfFileName)
	viperConf.AddConfigPath(".")

	if confFilePath := viperConf.GetString(confFilePathKey); confFilePath != "" {
		viperConf.SetConfigFile(confFilePath)
		baseLogger.Info().Str("file", confFilePath).Msg("Init logger using a configuration file")
	}

	if err := viperConf.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			baseLogger.Error().Err(err).Msg("Fail to read the logger's config file")
		}
	}
}

func initLog() {
	if format := viperConf.GetString("timefieldformat"); format != "" {
		zerolog.TimeFieldFormat = format
	}

	out := os.Stderr
	if outputName := viperConf.GetString("out"); outputName != "" {
		if o, err := getOutput(outputName); err == nil {
			out = o
		} else {
			baseLogger.Warn().Err(err).Str("outputName", outputName).Msg("failed to open output writer. set to stderr instead")
		}
	}
	baseLogger = baseLogger.Output(out)

	switch formatter := strings.ToLower(viperConf.GetString("formatter")); formatter {
	case "", "json":
	case "console":
		baseLogger = baseLogger.Output(
			zerolog.ConsoleWriter{Out: colorable.NewColorable(out), TimeFormat: zerolog.TimeFieldFormat})
	case "console_no_color":
		baseLogger = baseLogger.Output(
			zerolog.ConsoleWriter{Out: out, NoColor: true, TimeFormat: zerolog.TimeFieldFormat})
	default:
		baseLogger.Warn().Str("formatter", formatter).Msg("Invalid formatter. Only allowed; console/console_no_color/json")
	}

	if viperConf.GetBool("caller") {
		baseLogger = baseLogger.With().Caller().Logger()
	}

	baseLevel = parseLevel(viperConf.GetString("level"), zerolog.InfoLevel)
	baseLogger = baseLogger.With().Timestamp().Logger().Level(baseLevel)
}

func parseLevel(level string, fallback zerolog.Level) zerolog.Level {
	if level == "" {
		return fallback
	}
	zLevel, err := zerolog.ParseLevel(level)
	if err != nil {
		baseLogger.Warn().Err(err).Str("level", level).Msg("Fail to parse a log level")
		return fallback
	}
	return zLevel
}

func ensureInit() {
	if !isLogInit {
		loadConfigFile()
		initLog()
		isLogInit = true
	}
}

// NewLogger returns a logger whose entries carry module=moduleName, with the
// level and output of the module's table if the config file has one.
func NewLogger(moduleName string) *Logger {
	logInitLock.Lock()
	defer logInitLock.Unlock()
	ensureInit()

	zLogger := baseLogger.With().Str("module", moduleName).Logger()
	zLevel := baseLevel
	if sub := viperConf.Sub(moduleName); sub != nil {
		if outputName := sub.GetString("out"); outputName != "" {
			if out, err := getOutput(outputName); err == nil {
				zLogger = zLogger.Output(out)
			} else {
				baseLogger.Warn().Err(err).Str("outputName", outputName).Str("module", moduleName).Msg("failed to open output writer. set to base out instead")
			}
		}
		if level := sub.GetString("level"); level != "" {
			zLevel = parseLevel(level, zerolog.InfoLevel)
			zLogger = zLogger.Level(zLevel)
		}
	}

	return &Logger{
		Logger: &zLogger,
		name:   moduleName,
		level:  zLevel,
	}
}

// Default returns the base logger, which has no module name.
func Default() *Logger {
	logInitLock.Lock()
	defer logInitLock.Unlock()
	ensureInit()

	return &Logger{
		Logger: &baseLogger,
		level:  baseLevel,
	}
}

// IsDebugEnabled reports whether debug entries are written, to skip building
// expensive debug fields.
func (logger *Logger) IsDebugEnabled() bool {
	return logger.level <= zerolog.DebugLevel
}

// Level returns current logger level
func (logger *Logger) Level() string {
	return logger.level.String()
}

func (logger *Logger) Name() string {
	return logger.name
}
