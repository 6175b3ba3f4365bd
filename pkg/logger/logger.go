package logger

import (
	"io"
	"os"
	"path/filepath"
	"sync"

	"github.com/sirupsen/logrus"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

type Config struct {
	ServiceName string `yaml:"service_name" toml:"service_name" env:"LOGGER_SERVICE_NAME" env-default:"wgsession" env-description:"Service name"`
	Level       string `yaml:"level" toml:"level" env:"LOGGER_LEVEL" env-default:"info" env-description:"Log level [debug, info, warn, error]"`
	Pretty      bool   `yaml:"pretty" toml:"pretty" env:"LOGGER_PRETTY" env-default:"true" env-description:"Enables human readable logging. Otherwise, uses json output"`
	Dir         string `yaml:"dir" toml:"dir" env:"LOGGER_DIR" env-default:"logs" env-description:"Directory for rotated log files"`
}

// New builds the application logger. Console output goes to stderr so
// stdout stays free for machine-readable status lines.
func New(cfg Config) *zap.SugaredLogger {
	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		level = zapcore.DebugLevel
	}

	atomicLevel := zap.NewAtomicLevelAt(level)

	encoder := getEncoder(cfg.Pretty)

	fileWriter := zapcore.AddSync(getLogWriter(cfg))

	fileCore := zapcore.NewCore(encoder, fileWriter, atomicLevel)

	consoleWriter := zapcore.Lock(os.Stderr)
	consoleCore := zapcore.NewCore(encoder, consoleWriter, atomicLevel)

	core := zapcore.NewTee(fileCore, consoleCore)

	logger := zap.New(core, zap.AddCaller()).Sugar()

	return logger
}

// Logrus points the logrus standard logger, used by the internal packages,
// at the same rotating file and level as New.
func Logrus(cfg Config) {
	level, err := logrus.ParseLevel(cfg.Level)
	if err != nil {
		level = logrus.DebugLevel
	}
	logrus.SetLevel(level)
	logrus.SetOutput(io.MultiWriter(os.Stderr, getLogWriter(cfg)))
	if cfg.Pretty {
		logrus.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	} else {
		logrus.SetFormatter(&logrus.JSONFormatter{})
	}
}

func getEncoder(pretty bool) zapcore.Encoder {
	encoderConfig := zapcore.EncoderConfig{
		TimeKey:        "time",
		LevelKey:       "level",
		NameKey:        "logger",
		CallerKey:      "caller",
		MessageKey:     "msg",
		StacktraceKey:  "stacktrace",
		EncodeTime:     zapcore.ISO8601TimeEncoder,
		EncodeDuration: zapcore.SecondsDurationEncoder,
		EncodeCaller:   zapcore.ShortCallerEncoder,
		EncodeLevel:    CustomLevelEncoder,
	}
	if !pretty {
		encoderConfig.EncodeLevel = zapcore.LowercaseLevelEncoder
		return zapcore.NewJSONEncoder(encoderConfig)
	}
	return zapcore.NewConsoleEncoder(encoderConfig)
}

var (
	writersMu sync.Mutex
	writers   = map[string]*lumberjack.Logger{}
)

// getLogWriter hands out one rotating writer per file so zap and logrus
// never rotate the same file independently.
func getLogWriter(cfg Config) *lumberjack.Logger {
	dir := cfg.Dir
	if dir == "" {
		dir = "logs"
	}
	name := cfg.ServiceName
	if name == "" {
		name = "wgsession"
	}
	filename := filepath.Join(dir, name+".log")

	writersMu.Lock()
	defer writersMu.Unlock()
	if w, ok := writers[filename]; ok {
		return w
	}
	w := &lumberjack.Logger{
		Filename:   filename,
		MaxSize:    50, // MB
		MaxBackups: 10,
		MaxAge:     30, // days
		Compress:   true,
	}
	writers[filename] = w
	return w
}

func CustomLevelEncoder(level zapcore.Level, enc zapcore.PrimitiveArrayEncoder) {
	enc.AppendString("[" + getIcon(level) + level.CapitalString() + "]")
}

func getIcon(lvl zapcore.Level) string {
	switch lvl {
	case zapcore.InfoLevel:
		return "🔵 "
	case zapcore.DebugLevel:
		return "🟢 "
	case zapcore.WarnLevel:
		return "🟡️ "
	case zapcore.ErrorLevel:
		return "🔴 "
	case zapcore.FatalLevel, zapcore.PanicLevel:
		return "⚫ "
	default:
		return ""
	}
}
