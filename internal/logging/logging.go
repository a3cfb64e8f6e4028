// Package logging holds the process-wide structured logger.
package logging

import (
	"io"
	"os"
	"strings"

	"github.com/sirupsen/logrus"
)

const serviceName = "partnercenter"

// global accessible logger
var (
	logger *logrus.Logger
	Log    *logrus.Entry
)

// Tests and library callers that never reach Init still get a usable logger.
func init() {
	Init("INFO", os.Stderr)
}

// Init (re)configures the global logger. Unknown levels fall back to INFO.
func Init(level string, out io.Writer) {
	logger = logrus.New()
	logger.SetOutput(out)
	logger.SetFormatter(&logrus.TextFormatter{
		FullTimestamp:   true,
		TimestampFormat: "2006-01-02 15:04:05",
	})

	lvl, err := logrus.ParseLevel(strings.ToLower(strings.TrimSpace(level)))
	if err != nil {
		lvl = logrus.InfoLevel
	}
	logger.SetLevel(lvl)

	Log = logger.WithField("service", serviceName)
}

// SetVerbose switches the logger to debug level and reports callers.
func SetVerbose() {
	logger.SetLevel(logrus.DebugLevel)
	logger.SetReportCaller(true)
}
