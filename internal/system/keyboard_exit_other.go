//go:build !linux

package system

import (
	"context"

	"github.com/rs/zerolog"
)

const DefaultInputGlob = ""

func WatchExitKey(context.Context, string, uint16, zerolog.Logger, func()) int { return 0 }
