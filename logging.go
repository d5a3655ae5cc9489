// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package pspat

import (
	"os"

	"github.com/rs/zerolog"
)

// NewLogger builds a zerolog.Logger writing JSON lines to stderr at the given
// level ("debug", "info", "warn", "error"; unrecognized values fall
// back to "info"), grounded on other_examples' cuemby/warren and
// webitel-im-delivery-service's use of github.com/rs/zerolog for
// structured logging.
func NewLogger(level string) zerolog.Logger {
	lvl, err := zerolog.ParseLevel(level)
	if err != nil {
		lvl = zerolog.InfoLevel
	}
	return zerolog.New(os.Stderr).Level(lvl).With().Timestamp().Logger()
}
