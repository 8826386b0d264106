//go:build windows || plan9

package log

import "errors"

func EnableSyslog(tag string) error {
	return errors.New("syslog is not supported on this platform")
}
