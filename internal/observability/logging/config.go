package logging

// Log output formats.
const (
	FormatJSONL = "jsonl"
	FormatNone  = "none"
)

// Config selects format, minimum level and sink for a Logger.
type Config struct {
	Format string
	Level  string
	Output string
}

// DefaultConfig logs JSONL at info level to stderr.
func DefaultConfig() Config {
	return Config{
		Format: FormatJSONL,
		Level:  LevelInfo,
		Output: "stderr",
	}
}

// Log levels in increasing priority.
const (
	LevelDebug = "debug"
	LevelInfo  = "info"
	LevelWarn  = "warn"
	LevelError = "error"
)

func levelPriority(level string) int {
	switch level {
	case LevelDebug:
		return 0
	case LevelInfo:
		return 1
	case LevelWarn:
		return 2
	case LevelError:
		return 3
	default:
		return 1
	}
}
