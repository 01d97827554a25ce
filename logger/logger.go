package logger

import (
	"fmt"
	"os"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var (
	Log       *zap.SugaredLogger
	ZapLogger *zap.Logger // Expose the raw zap Logger
)

func encoderConfig() zapcore.EncoderConfig {
	return zapcore.EncoderConfig{
		TimeKey:          "T", // Keep time key brief
		LevelKey:         "L",
		NameKey:          "N",
		CallerKey:        "",              // Disable caller key
		FunctionKey:      zapcore.OmitKey, // Disable function key
		MessageKey:       "M",
		StacktraceKey:    "S",
		LineEnding:       zapcore.DefaultLineEnding,
		EncodeLevel:      zapcore.CapitalLevelEncoder,
		EncodeTime:       zapcore.TimeEncoderOfLayout("2006-01-02 15:04:05"),
		EncodeDuration:   zapcore.SecondsDurationEncoder,
		EncodeName:       zapcore.FullNameEncoder,
		ConsoleSeparator: "  ",
	}
}

// New builds a logger writing INFO and above to logFile, and WARN and above
// to stderr when console is set.
func New(logFile string, console bool) (*zap.Logger, error) {
	f, err := os.OpenFile(logFile, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return nil, fmt.Errorf("can't open log file: %w", err)
	}
	enc := zapcore.NewConsoleEncoder(encoderConfig())
	cores := []zapcore.Core{zapcore.NewCore(enc, zapcore.AddSync(f), zap.InfoLevel)}
	if console {
		cores = append(cores, zapcore.NewCore(enc, zapcore.Lock(os.Stderr), zap.WarnLevel))
	}
	return zap.New(zapcore.NewTee(cores...)), nil
}

// InitLogger sets the process-wide Log used by the commands.
func InitLogger(logFile string, console bool) error {
	l, err := New(logFile, console)
	if err != nil {
		return err
	}
	ZapLogger = l
	Log = l.Sugar()
	Log.Infow("Logger initialized", zap.String("file", logFile))
	return nil
}

func Sync() {
	if ZapLogger != nil {
		_ = ZapLogger.Sync() // flushes buffer, if any
	}
}
