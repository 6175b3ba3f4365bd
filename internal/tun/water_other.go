//go:build !(linux || darwin)

package tun

import (
	"context"
	"fmt"
	"runtime"
)

type WaterEstablisher struct {
	Run Runner
}

func NewEstablisher() *WaterEstablisher {
	return &WaterEstablisher{}
}

func (e *WaterEstablisher) Establish(ctx context.Context, s Settings) (Device, error) {
	return nil, fmt.Errorf("%w: %s", ErrUnsupported, runtime.GOOS)
}
