//go:build !linux

package capture

import (
	"context"
	"errors"
)

type LiveConfig struct {
	Iface   string
	SnapLen int
	Promisc bool
}

type Live struct{}

func NewLive(LiveConfig) (*Live, error) {
	return nil, errors.New("capture: live capture is only supported on linux")
}

func (*Live) Name() string { return "live" }

func (*Live) Run(context.Context, func(Frame) error) error {
	return errors.New("capture: live capture is only supported on linux")
}

func (*Live) Close() error { return nil }
