//go:build android || ios

package gui

import "errors"

var ErrUnsupported = errors.New("gui: desktop only")
