package servicelog

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/kardianos/service"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

// LogFile is the name of the rotated log file inside the log folder
const LogFile = "ts413camera.log"

type lumberjackSink struct {
	*lumberjack.Logger
}

func (lumberjackSink) Sync() error {
	return nil
}

type Attrib = zap.Field
type Logger struct {
	*zap.Logger
	level zap.AtomicLevel
}

func String(name, value string) Attrib {
	return zap.String(name, value)
}

func Error(err error) Attrib {
	return zap.Error(err)
}

func Bool(name string, value bool) Attrib {
	return zap.Bool(name, value)
}

func Any(name string, value interface{}) Attrib {
	return zap.Any(name, value)
}

func Int(name string, value int) Attrib {
	return zap.Int(name, value)
}

func Uint32(name string, value uint32) Attrib {
	return zap.Uint32(name, value)
}

func Float64(name string, value float64) Attrib {
	return zap.Float64(name, value)
}

func Stringer(name string, value fmt.Stringer) Attrib {
	return zap.Stringer(name, value)
}

func Time(name string, value time.Time) Attrib {
	return zap.Time(name, value)
}

func Duration(name string, value time.Duration) Attrib {
	return zap.Duration(name, value)
}

// The sink factory can only be registered once per process
var registerOnce sync.Once

func New(root service.Logger, logDir string, fileSizeMb int, fileNum int, debug bool) (Logger, error) {
	if err := os.MkdirAll(logDir, 0755); err != nil {
		return Logger{}, err
	}
	var registerErr error
	registerOnce.Do(func() {
		registerErr = zap.RegisterSink("lumberjack", func(u *url.URL) (zap.Sink, error) {
			logPart := strings.Split(u.String(), "/")
			logFile := filepath.Join(logDir, logPart[len(logPart)-1])
			root.Info("logging events from ", u.String(), " to folder ", logDir, ", file ", logFile)
			return lumberjackSink{
				Logger: &lumberjack.Logger{
					Filename:   logFile,
					MaxSize:    fileSizeMb,
					MaxBackups: fileNum,
				},
			}, nil
		})
	})
	if registerErr != nil {
		return Logger{}, registerErr
	}

	var config zap.Config
	if debug {
		config = zap.NewDevelopmentConfig()
	} else {
		config = zap.NewProductionConfig()
	}
	config.OutputPaths = []string{"lumberjack://" + LogFile}
	logger, err := config.Build()
	if err != nil {
		return Logger{}, err
	}

	// Avoid stack traces below panic level
	logger = logger.WithOptions(zap.AddStacktrace(zap.DPanicLevel))
	return Logger{Logger: logger, level: config.Level}, nil
}

// Wrap an existing zap logger, e.g. zaptest loggers
func Wrap(logger *zap.Logger) Logger {
	return Logger{Logger: logger}
}

// Nop logger
func Nop() Logger {
	return Logger{Logger: zap.NewNop()}
}

func (l Logger) With(fields ...Attrib) Logger {
	return Logger{
		Logger: l.Logger.With(fields...),
		level:  l.level,
	}
}

// SetDebug toggles debug logging at runtime. It is a no-op on wrapped loggers.
func (l Logger) SetDebug(debug bool) {
	if l.level == (zap.AtomicLevel{}) {
		return
	}
	if debug {
		l.level.SetLevel(zapcore.DebugLevel)
	} else {
		l.level.SetLevel(zapcore.InfoLevel)
	}
}
