package journal

import "github.com/natefinch/lumberjack"

// Rotation limits bound how large the on-disk journal is allowed to grow
// before lumberjack rotates it. These are supervisor defaults: a
// long-running monitor's journal is an audit trail, not user-configured
// scope in this version.
const (
	rotateMaxSizeMB   = 50
	rotateMaxBackups  = 5
	rotateMaxAgeDays  = 30
	rotateCompressOld = true
)

// NewRotatingFile opens path as a size- and age-bounded rotating log file,
// grounded on the same github.com/natefinch/lumberjack usage a sibling
// supervisor in this ecosystem reaches for to keep its child log from
// growing unbounded.
func NewRotatingFile(path string) *lumberjack.Logger {
	return &lumberjack.Logger{
		Filename:   path,
		MaxSize:    rotateMaxSizeMB,
		MaxBackups: rotateMaxBackups,
		MaxAge:     rotateMaxAgeDays,
		Compress:   rotateCompressOld,
	}
}
