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

// Logger returns the shared line logger. Everything the service prints goes
// through it as one JSON object per line.
func Logger() *log.Logger {
	loggerOnce.Do(func() {
		logger = log.New(os.Stdout, "", 0)
	})
	return logger
}

// Emit writes one JSON log line tagged with typ ("http", "audit", ...). A
// timestamp is stamped unless the entry carries its own "ts".
func Emit(typ string, fields map[string]any) {
	data, err := encodeLine(typ, fields)
	if err != nil {
		Logger().Println(`{"type":"log","level":"error","msg":"log marshal failed"}`)
		return
	}
	Logger().Println(string(data))
}

func encodeLine(typ string, fields map[string]any) ([]byte, error) {
	entry := make(map[string]any, len(fields)+2)
	for k, v := range fields {
		entry[k] = v
	}
	if _, ok := entry["ts"]; !ok {
		entry["ts"] = time.Now().UTC().Format(time.RFC3339Nano)
	}
	entry["type"] = typ
	return json.Marshal(entry)
}
