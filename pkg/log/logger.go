package log

import (
	"io"

	"github.com/sirupsen/logrus"
)

// New builds the root logger used by the CLI. An unparsable level falls
// back to info and is reported through the returned logger.
func New(levelName string, out io.Writer) *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(out)
	logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true, TimestampFormat: "15:04:05.000"})
	logger.SetLevel(logrus.InfoLevel)

	level, err := logrus.ParseLevel(levelName)
	if err != nil {
		logger.Warnf("Invalid log level '%s', using default 'info'. Error: %v", levelName, err)
	} else {
		logger.SetLevel(level)
	}
	return logger
}
