package logger

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
)

// Setup builds the process logger. Unknown levels fall back to info; pretty
// switches to a console writer for local development.
func Setup(level string, pretty bool) zerolog.Logger {
	return newLogger(os.Stderr, level, pretty)
}

func newLogger(out io.Writer, level string, pretty bool) zerolog.Logger {
	lvl, err := zerolog.ParseLevel(level)
	if err != nil || lvl == zerolog.NoLevel {
		lvl = zerolog.InfoLevel
	}

	if pretty {
		out = zerolog.ConsoleWriter{Out: out, FormatTimestamp: formatTimestamp}
	}
	ctx := zerolog.New(out).Level(lvl).With().Timestamp().Caller()
	if pretty {
		ctx = ctx.Stack()
	}
	return ctx.Logger()
}

// formatTimestamp renders the event's own time field, which zerolog encodes
// as a string in TimeFieldFormat or as a json.Number for unix formats.
func formatTimestamp(i any) string {
	switch v := i.(type) {
	case string:
		t, err := time.Parse(zerolog.TimeFieldFormat, v)
		if err != nil {
			return v
		}
		return t.Format(time.RFC3339)
	case json.Number:
		n, err := v.Int64()
		if err != nil {
			return v.String()
		}
		return time.Unix(n, 0).UTC().Format(time.RFC3339)
	case nil:
		return "<nil>"
	}
	return fmt.Sprint(i)
}
