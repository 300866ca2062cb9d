package logger

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var Log *zap.Logger = zap.NewNop()

// Audit is an optional dedicated audit logger. Callers may use
// logger.Audit.Info(...) to emit audit records; until a sink is attached it
// discards everything.
var Audit *zap.Logger = zap.NewNop()

// Init initializes the global logger at Info level with console encoding.
func Init() {
	InitWithLevel("", "")
}

// InitWithLevel initializes the global logger honoring the provided level
// ("debug", "info", "warn", "error") and format ("console" or "json"). Empty
// values fall back to CIPHERFEED_LOG_LEVEL / CIPHERFEED_LOG_FORMAT and then
// to info/console. CIPHERFEED_LOG_SINK may point the output at a file, e.g.
// "file:/var/log/cipherfeed.log".
func InitWithLevel(level, format string) {
	lvl := strings.ToLower(strings.TrimSpace(level))
	if lvl == "" {
		lvl = strings.ToLower(strings.TrimSpace(os.Getenv("CIPHERFEED_LOG_LEVEL")))
	}
	zl, err := zapcore.ParseLevel(lvl)
	if err != nil {
		zl = zapcore.InfoLevel
	}

	form := strings.ToLower(strings.TrimSpace(format))
	if form == "" {
		form = strings.ToLower(strings.TrimSpace(os.Getenv("CIPHERFEED_LOG_FORMAT")))
	}
	encCfg := zap.NewProductionEncoderConfig()
	encCfg.EncodeTime = zapcore.ISO8601TimeEncoder
	var enc zapcore.Encoder
	if form == "json" {
		enc = zapcore.NewJSONEncoder(encCfg)
	} else {
		encCfg.EncodeLevel = zapcore.CapitalLevelEncoder
		enc = zapcore.NewConsoleEncoder(encCfg)
	}

	ws := zapcore.Lock(os.Stdout)
	if sink := os.Getenv("CIPHERFEED_LOG_SINK"); strings.HasPrefix(sink, "file:") {
		path := strings.TrimPrefix(sink, "file:")
		if f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o640); err == nil {
			ws = zapcore.Lock(f)
		} else {
			fmt.Fprintf(os.Stderr, "failed to open log file %s: %v\n", path, err)
		}
	}

	Log = zap.New(zapcore.NewCore(enc, ws, zl))
}

// AttachAuditFileSink configures a JSON-file audit logger writing to
// <auditDir>/audit.log. If the file cannot be opened the function returns an
// error and leaves Audit untouched.
func AttachAuditFileSink(auditDir string) error {
	if auditDir == "" {
		return fmt.Errorf("empty audit dir")
	}
	// If the path exists and is a symlink, fail early to avoid TOCTOU.
	if fi, err := os.Lstat(auditDir); err == nil {
		if fi.Mode()&os.ModeSymlink != 0 {
			return fmt.Errorf("audit path is a symlink: %s", auditDir)
		}
		if !fi.IsDir() {
			return fmt.Errorf("audit path exists and is not a directory: %s", auditDir)
		}
	}
	if err := os.MkdirAll(auditDir, 0o700); err != nil {
		return fmt.Errorf("failed to create audit directory: %w", err)
	}
	// double-check for symlink after creation
	if fi2, err := os.Lstat(auditDir); err == nil {
		if fi2.Mode()&os.ModeSymlink != 0 {
			return fmt.Errorf("audit path is a symlink after creation: %s", auditDir)
		}
	}

	fname := filepath.Join(auditDir, "audit.log")
	// If existing file too large, rotate it.
	if fi, err := os.Stat(fname); err == nil {
		const maxSize = 10 * 1024 * 1024 // 10MB
		if fi.Size() > maxSize {
			bak := fname + "." + fi.ModTime().UTC().Format("20060102T150405Z")
			_ = os.Rename(fname, bak)
		}
	}
	f, err := os.OpenFile(fname, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
	if err != nil {
		return fmt.Errorf("failed to open audit log file: %w", err)
	}
	encCfg := zap.NewProductionEncoderConfig()
	encCfg.EncodeTime = zapcore.EpochNanosTimeEncoder
	Audit = zap.New(zapcore.NewCore(zapcore.NewJSONEncoder(encCfg), zapcore.Lock(f), zapcore.InfoLevel))
	// Emit an initial marker so consumers (and tests) can observe that the
	// audit sink was successfully attached and the file is writable.
	Audit.Info("audit_sink_attached", zap.String("path", fname))
	return nil
}

// Sync flushes any buffered log entries. Called on shutdown.
func Sync() {
	_ = Log.Sync()
	_ = Audit.Sync()
}

// Sugared helpers take alternating key/value pairs; request-path code uses
// these, hot paths use Log directly with typed fields.

func Debug(msg string, kv ...any) { Log.Sugar().Debugw(msg, kv...) }
func Info(msg string, kv ...any)  { Log.Sugar().Infow(msg, kv...) }
func Warn(msg string, kv ...any)  { Log.Sugar().Warnw(msg, kv...) }
func Error(msg string, kv ...any) { Log.Sugar().Errorw(msg, kv...) }
