package logger

import (
	"os"

	"github.com/sirupsen/logrus"
)

const envLocal = "local"

// New builds the process logger. Local runs get human readable text, every
// other environment gets JSON for log shipping.
func New(env, level string) *logrus.Logger {
	log := logrus.New()
	log.SetOutput(os.Stdout)

	if env == envLocal {
		log.SetFormatter(&logrus.TextFormatter{
			FullTimestamp:   true,
			TimestampFormat: "2006-01-02 15:04:05",
		})
	} else {
		log.SetFormatter(&logrus.JSONFormatter{})
	}

	lvl, err := logrus.ParseLevel(level)
	if err != nil {
		log.WithField("level", level).Warn("unknown log level, falling back to info")
		lvl = logrus.InfoLevel
	}
	log.SetLevel(lvl)

	return log
}
