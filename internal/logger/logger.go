// Package logger предоставляет логирование с префиксом сервиса поверх zap.
// Поддерживается логирование времени выполнения функций.
package logger

import (
	"os"
	"sync"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var (
	mu    sync.RWMutex
	sugar = newSugar("")
	debug = os.Getenv("LOG_LEVEL") == "debug" || os.Getenv("LOG_LEVEL") == "trace"
)

func newSugar(prefix string) *zap.SugaredLogger {
	cfg := zap.NewProductionConfig()
	if os.Getenv("APP_ENV") != "production" {
		cfg = zap.NewDevelopmentConfig()
	}
	if lvl, err := zapcore.ParseLevel(os.Getenv("LOG_LEVEL")); err == nil {
		cfg.Level = zap.NewAtomicLevelAt(lvl)
	}
	// Запись не должна ронять процесс при недоступном stderr.
	l, err := cfg.Build(zap.WithCaller(false))
	if err != nil {
		l = zap.NewNop()
	}
	if prefix != "" {
		l = l.Named(prefix)
	}
	return l.Sugar()
}

// SetPrefix задаёт префикс для всех последующих логов (например "api").
func SetPrefix(p string) {
	mu.Lock()
	sugar = newSugar(p)
	mu.Unlock()
}

func log() *zap.SugaredLogger {
	mu.RLock()
	defer mu.RUnlock()
	return sugar
}

// Info пишет информационное сообщение.
func Info(v ...any) { log().Info(v...) }

// Infof форматирует и пишет информационное сообщение.
func Infof(format string, v ...any) { log().Infof(format, v...) }

// Error пишет ошибку.
func Error(v ...any) { log().Error(v...) }

// Errorf форматирует и пишет ошибку.
func Errorf(format string, v ...any) { log().Errorf(format, v...) }

// LogDuration логирует имя функции и время выполнения в миллисекундах.
// При LOG_LEVEL=info логирует только вызовы дольше 100ms; при LOG_LEVEL=debug — все.
func LogDuration(fn string, start time.Time) {
	elapsed := time.Since(start)
	if debug || elapsed >= 100*time.Millisecond {
		log().Infow("slow call", "fn", fn, "duration_ms", elapsed.Milliseconds())
	}
}

// DeferLogDuration возвращает функцию для вызова в defer:
// defer logger.DeferLogDuration("HandlerName", time.Now())().
func DeferLogDuration(fn string, start time.Time) func() {
	return func() { LogDuration(fn, start) }
}

// Sync сбрасывает буферы zap (вызывается при завершении процесса).
func Sync() {
	_ = log().Sync()
}
