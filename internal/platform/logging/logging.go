package logging

import (
	"fmt"
	"io"

	"github.com/sirupsen/logrus"

	"github.com/Overland-East-Bay/catalog-intake-api/internal/platform/config"
)

const timestampFormat = "2006-01-02T15:04:05.000Z07:00"

// New builds the process logger writing to w.
func New(cfg config.LogConfig, w io.Writer) (*logrus.Logger, error) {
	level, err := logrus.ParseLevel(cfg.Level)
	if err != nil {
		return nil, fmt.Errorf("log level: %w", err)
	}

	log := logrus.New()
	log.SetOutput(w)
	log.SetLevel(level)
	switch cfg.Format {
	case "text":
		log.SetFormatter(&logrus.TextFormatter{
			FullTimestamp:   true,
			TimestampFormat: timestampFormat,
		})
	default:
		log.SetFormatter(&logrus.JSONFormatter{TimestampFormat: timestampFormat})
	}
	return log, nil
}
