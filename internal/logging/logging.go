// Package logging configures the commonlog backend used by every package.
package logging

import (
	"github.com/tliron/commonlog"
	_ "github.com/tliron/commonlog/simple"
)

// Configure sets the log verbosity and destination. Verbosity 0 logs
// notices and above, 1 adds info and 2 adds debug; negative values drop
// levels down to -4, which disables logging. An empty path logs to stderr.
func Configure(verbosity int, path string) {
	var p *string
	if path != "" {
		p = &path
	}
	commonlog.Configure(verbosity, p)
}

// Quiet disables logging.
func Quiet() {
	commonlog.Configure(-4, nil)
}
