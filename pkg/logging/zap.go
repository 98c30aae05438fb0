package logging

import (
	"context"
	"io"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// ZapLogger implements the Logger interface using uber-go/zap
type ZapLogger struct {
	logger *zap.Logger
	fields []Field
	ctx    context.Context
}

// NewZapLogger creates a new Logger implementation backed by zap
func NewZapLogger(options ...ZapOption) Logger {
	config := zap.NewProductionConfig()
	config.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	config.OutputPaths = []string{"stdout"}
	config.Level = zap.NewAtomicLevelAt(zap.InfoLevel)

	opts := defaultZapOptions()
	for _, opt := range options {
		opt(opts)
	}

	if opts.development {
		config = zap.NewDevelopmentConfig()
		config.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	}

	if opts.level != nil {
		config.Level = zap.NewAtomicLevelAt(*opts.level)
	}

	if len(opts.outputPaths) > 0 {
		config.OutputPaths = opts.outputPaths
	}

	logger, err := config.Build(
		zap.AddCaller(),
		zap.AddCallerSkip(1),
		zap.AddStacktrace(zapcore.ErrorLevel),
	)
	if err != nil {
		// Fall back to the plain JSON logger if zap logger creation fails
		return NewLogger()
	}

	return &ZapLogger{
		logger: logger,
	}
}

// ZapOption defines a function that can configure a zap logger
type ZapOption func(*zapOptions)

// zapOptions holds configuration for the zap logger
type zapOptions struct {
	development bool
	level       *zapcore.Level
	outputPaths []string
}

func defaultZapOptions() *zapOptions {
	return &zapOptions{
		development: false,
		outputPaths: []string{"stdout"},
	}
}

// WithDevelopmentMode enables development mode with more verbose logging
func WithDevelopmentMode() ZapOption {
	return func(opts *zapOptions) {
		opts.development = true
	}
}

// WithDebugLevel sets the log level to debug
func WithDebugLevel() ZapOption {
	return func(opts *zapOptions) {
		level := zapcore.DebugLevel
		opts.level = &level
	}
}

// WithLogLevel sets a specific log level
func WithLogLevel(level Level) ZapOption {
	return func(opts *zapOptions) {
		var zapLevel zapcore.Level
		switch level {
		case DEBUG:
			zapLevel = zapcore.DebugLevel
		case INFO:
			zapLevel = zapcore.InfoLevel
		case WARN:
			zapLevel = zapcore.WarnLevel
		case ERROR:
			zapLevel = zapcore.ErrorLevel
		default:
			zapLevel = zapcore.InfoLevel
		}
		opts.level = &zapLevel
	}
}

// WithOutputPaths sets output paths for the logger
func WithOutputPaths(paths ...string) ZapOption {
	return func(opts *zapOptions) {
		opts.outputPaths = paths
	}
}

// Debug implements Logger interface
func (l *ZapLogger) Debug(msg string, fields ...Field) {
	if ce := l.logger.Check(zapcore.DebugLevel, msg); ce != nil {
		ce.Write(l.convertFields(fields...)...)
	}
}

// Info implements Logger interface
func (l *ZapLogger) Info(msg string, fields ...Field) {
	if ce := l.logger.Check(zapcore.InfoLevel, msg); ce != nil {
		ce.Write(l.convertFields(fields...)...)
	}
}

// Warn implements Logger interface
func (l *ZapLogger) Warn(msg string, fields ...Field) {
	if ce := l.logger.Check(zapcore.WarnLevel, msg); ce != nil {
		ce.Write(l.convertFields(fields...)...)
	}
}

// Error implements Logger interface
func (l *ZapLogger) Error(msg string, fields ...Field) {
	if ce := l.logger.Check(zapcore.ErrorLevel, msg); ce != nil {
		ce.Write(l.convertFields(fields...)...)
	}
}

// WithContext implements Logger interface
func (l *ZapLogger) WithContext(ctx context.Context) Logger {
	newLogger := *l
	newLogger.ctx = ctx

	if traceID, ok := ctx.Value("trace_id").(string); ok {
		newLogger.fields = append(newLogger.fields, Field{Key: "trace_id", Value: traceID})
	}

	return &newLogger
}

// WithFields implements Logger interface
func (l *ZapLogger) WithFields(fields ...Field) Logger {
	newLogger := *l
	newLogger.fields = make([]Field, len(l.fields)+len(fields))
	copy(newLogger.fields, l.fields)
	copy(newLogger.fields[len(l.fields):], fields)
	return &newLogger
}

// SetLevel implements Logger interface.
// zap's level is atomic and fixed at construction; prefer WithLogLevel.
func (l *ZapLogger) SetLevel(level Level) {
	l.logger.Info("SetLevel operation not fully supported with zap logger")
}

// SetOutput implements Logger interface
func (l *ZapLogger) SetOutput(w io.Writer) {
	encoderConfig := zapcore.EncoderConfig{
		TimeKey:        "timestamp",
		LevelKey:       "level",
		NameKey:        "logger",
		CallerKey:      "caller",
		FunctionKey:    zapcore.OmitKey,
		MessageKey:     "message",
		StacktraceKey:  "stacktrace",
		LineEnding:     zapcore.DefaultLineEnding,
		EncodeLevel:    zapcore.CapitalLevelEncoder,
		EncodeTime:     zapcore.ISO8601TimeEncoder,
		EncodeDuration: zapcore.StringDurationEncoder,
		EncodeCaller:   zapcore.ShortCallerEncoder,
	}

	atom := zap.NewAtomicLevel()
	atom.SetLevel(l.logger.Level())

	core := zapcore.NewCore(
		zapcore.NewJSONEncoder(encoderConfig),
		zapcore.AddSync(w),
		atom,
	)

	l.logger = zap.New(core, zap.AddCaller(), zap.AddCallerSkip(1))
}

// GetZapLogger returns the underlying zap.Logger
func (l *ZapLogger) GetZapLogger() *zap.Logger {
	return l.logger
}

// convertFields converts our Field type to zap.Field
func (l *ZapLogger) convertFields(fields ...Field) []zap.Field {
	allFields := make([]Field, 0, len(l.fields)+len(fields))
	allFields = append(allFields, l.fields...)
	allFields = append(allFields, fields...)

	zapFields := make([]zap.Field, 0, len(allFields))
	for _, f := range allFields {
		zapFields = append(zapFields, zap.Any(f.Key, f.Value))
	}

	if l.ctx != nil {
		if traceID, ok := l.ctx.Value("trace_id").(string); ok && traceID != "" {
			zapFields = append(zapFields, zap.String("trace_id", traceID))
		}
	}

	return zapFields
}

// Close flushes any buffered log entries
func (l *ZapLogger) Close() error {
	return l.logger.Sync()
}
