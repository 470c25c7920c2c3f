package obs

import (
	"encoding/json"
	"log"
	"os"
	"sync"
	"time"
)

var (
	loggerOnce sync.Once
	logger     *log.Logger
)

// Logger returns the shared structured logger used across the service.
func Logger() *log.Logger {
	loggerOnce.Do(func() {
		logger = log.New(os.Stdout, "", 0)
	})
	return logger
}

// SetLogger replaces the shared logger (tests capture output this way).
func SetLogger(l *log.Logger) {
	loggerOnce.Do(func() {})
	logger = l
}

// LogRequest emits a structured JSON log line with common HTTP fields.
func LogRequest(entry map[string]any) {
	if _, ok := entry["ts"]; !ok {
		entry["ts"] = time.Now().UTC().Format(time.RFC3339Nano)
	}
	if _, ok := entry["level"]; !ok {
		entry["level"] = "info"
	}
	data, err := json.Marshal(entry)
	if err != nil {
		Logger().Println(`{"level":"error","msg":"log marshal failed"}`)
		return
	}
	Logger().Println(string(data))
}

// LogInfo writes an info line with msg and optional fields.
func LogInfo(msg string, fields map[string]any) {
	LogRequest(entry("info", msg, fields))
}

// LogError writes an error line; err may be nil.
func LogError(msg string, err error, fields map[string]any) {
	e := entry("error", msg, fields)
	if err != nil {
		e["error"] = err.Error()
	}
	LogRequest(e)
}

func entry(level, msg string, fields map[string]any) map[string]any {
	e := make(map[string]any, len(fields)+3)
	for k, v := range fields {
		e[k] = v
	}
	e["level"] = level
	e["msg"] = msg
	return e
}
