package fathom

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path"
	"runtime"
	"strconv"
	"sync"
	"text/template"
	"time"
)

// Logger is a leveled, structured logger: a text/template-formatted header
// line whose default format is a JSON object the message and fields get
// folded into. It is a standalone value any App or test can construct.
type Logger struct {
	AppName string
	Enabled bool
	Format  string

	Output io.Writer

	template   *template.Template
	bufferPool *sync.Pool
	mutex      sync.Mutex
}

type loggerLevel uint8

const (
	lvlDebug loggerLevel = iota
	lvlInfo
	lvlWarn
	lvlError
	lvlFatal
)

var levelNames = []string{"DEBUG", "INFO", "WARN", "ERROR", "FATAL"}

// defaultLoggerFormat is a JSON header the message/fields get folded
// into.
const defaultLoggerFormat = `{"app_name":"{{.app_name}}","time":"{{.time_rfc3339}}","level":"{{.level}}","file":"{{.short_file}}","line":"{{.line}}"}`

// NewLogger returns a Logger enabled by default, writing to os.Stdout in
// the default JSON-header format.
func NewLogger() *Logger {
	return &Logger{
		Enabled: true,
		Format:  defaultLoggerFormat,
		Output:  os.Stdout,
		bufferPool: &sync.Pool{
			New: func() interface{} { return bytes.NewBuffer(make([]byte, 0, 256)) },
		},
	}
}

func (l *Logger) Debug(msg string, fields map[string]interface{}) { l.log(lvlDebug, msg, fields) }
func (l *Logger) Info(msg string, fields map[string]interface{})  { l.log(lvlInfo, msg, fields) }
func (l *Logger) Warn(msg string, fields map[string]interface{})  { l.log(lvlWarn, msg, fields) }
func (l *Logger) Error(msg string, fields map[string]interface{}) { l.log(lvlError, msg, fields) }

// Fatal logs at FATAL and terminates the process.
func (l *Logger) Fatal(msg string, fields map[string]interface{}) {
	l.log(lvlFatal, msg, fields)
	os.Exit(1)
}

func (l *Logger) log(lvl loggerLevel, msg string, fields map[string]interface{}) {
	if l == nil || !l.Enabled {
		return
	}

	if l.template == nil {
		format := l.Format
		if format == "" {
			format = defaultLoggerFormat
		}
		l.template = template.Must(template.New("logger").Parse(format))
	}

	l.mutex.Lock()
	defer l.mutex.Unlock()

	buf := l.bufferPool.Get().(*bytes.Buffer)
	buf.Reset()
	defer l.bufferPool.Put(buf)

	_, file, line, _ := runtime.Caller(2)

	data := map[string]interface{}{
		"app_name":     l.AppName,
		"time_rfc3339": time.Now().Format(time.RFC3339),
		"level":        levelNames[lvl],
		"short_file":   path.Base(file),
		"long_file":    file,
		"line":         strconv.Itoa(line),
	}

	if err := l.template.Execute(buf, data); err != nil {
		fmt.Fprintf(l.Output, "%s %s: %v\n", levelNames[lvl], msg, fields)
		return
	}

	s := buf.String()
	if i := len(s) - 1; i >= 0 && s[i] == '}' {
		buf.Truncate(i)
		buf.WriteByte(',')
		buf.WriteString(`"message":`)
		mb, _ := json.Marshal(msg)
		buf.Write(mb)
		if len(fields) > 0 {
			buf.WriteString(`,"fields":`)
			fb, err := json.Marshal(fields)
			if err != nil {
				fb = []byte("{}")
			}
			buf.Write(fb)
		}
		buf.WriteByte('}')
	} else {
		buf.WriteByte(' ')
		buf.WriteString(msg)
		if len(fields) > 0 {
			fb, _ := json.Marshal(fields)
			buf.WriteByte(' ')
			buf.Write(fb)
		}
	}

	buf.WriteByte('\n')
	l.Output.Write(buf.Bytes())
}
