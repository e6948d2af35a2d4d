// Package logging configures the process-wide logrus logger.
package logging

import (
	"os"
	"sync"

	"github.com/sirupsen/logrus"
	"gopkg.in/natefinch/lumberjack.v2"
)

var Logger = logrus.New()

var once sync.Once

// Init points the logger at a rotating file when logFile is set, stderr
// otherwise. Safe to call more than once; only the first call wins.
func Init(logFile string) {
	once.Do(func() {
		Logger.SetFormatter(&logrus.TextFormatter{
			FullTimestamp:   true,
			TimestampFormat: "2006-01-02 15:04:05",
		})
		Logger.SetLevel(logrus.InfoLevel)
		if logFile == "" {
			Logger.SetOutput(os.Stderr)
			return
		}
		Logger.SetOutput(&lumberjack.Logger{
			Filename:   logFile,
			MaxSize:    10, // megabytes
			MaxBackups: 3,
			MaxAge:     28, // days
			Compress:   true,
		})
	})
}
