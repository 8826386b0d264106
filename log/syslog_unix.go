//go:build !windows && !plan9

package log

import (
	"log/syslog"

	"go.uber.org/zap/zapcore"
)

// EnableSyslog adds the local syslog daemon as a second output.
func EnableSyslog(tag string) error {
	w, err := syslog.New(syslog.LOG_INFO|syslog.LOG_DAEMON, tag)
	if err != nil {
		return err
	}
	enc := newEncoder()
	addCore(zapcore.NewCore(enc, zapcore.AddSync(w), allLevels))
	return nil
}
