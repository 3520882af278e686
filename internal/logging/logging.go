package logging

import (
	"io"
	"os"
	"time"

	"github.com/sirupsen/logrus"
)

// New builds a JSON logger writing one object per line to w.
// Timestamps are emitted under "ts" in the given location.
func New(w io.Writer, loc *time.Location, level string) *logrus.Logger {
	if loc == nil {
		loc = time.UTC
	}

	l := logrus.New()
	l.SetOutput(w)
	l.SetFormatter(&locFormatter{
		loc: loc,
		Formatter: &logrus.JSONFormatter{
			TimestampFormat: time.RFC3339Nano,
			FieldMap: logrus.FieldMap{
				logrus.FieldKeyTime: "ts",
			},
		},
	})

	lvl, err := logrus.ParseLevel(level)
	if err != nil {
		lvl = logrus.InfoLevel
	}
	l.SetLevel(lvl)

	return l
}

// Default is the stdout logger used by the binary.
func Default(loc *time.Location, level string) *logrus.Logger {
	return New(os.Stdout, loc, level)
}

// Discard returns a logger that drops everything. Handy in tests.
func Discard() *logrus.Logger {
	return New(io.Discard, time.UTC, "panic")
}

type locFormatter struct {
	loc *time.Location
	logrus.Formatter
}

func (f *locFormatter) Format(e *logrus.Entry) ([]byte, error) {
	e.Time = e.Time.In(f.loc)
	return f.Formatter.Format(e)
}
