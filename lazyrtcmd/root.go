// package lazyrtcmd implements the lazyrt command line tool.
package lazyrtcmd

import (
	"context"
	"os"

	"go.brendoncarroll.net/star"
	"go.brendoncarroll.net/stdctx/logctx"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"myceliumweb.org/lazyrt/lazy"
)

func Root() star.Command {
	return root
}

var root = star.NewDir(star.Metadata{
	Short: "evaluate lazy thunk graphs",
}, map[star.Symbol]star.Command{
	"eval":    evalCmd,
	"inspect": inspectCmd,
})

var fileParam = star.Param[*os.File]{
	Name:  "file",
	Parse: os.Open,
}

// LogParam sets the log level. The last occurrence wins, and the default is warn.
var LogParam = star.Param[zapcore.Level]{
	Name:     "log",
	Repeated: true,
	Parse:    zapcore.ParseLevel,
}

// JournalParam sets the number of evaluations remembered for inspect.
var JournalParam = star.Param[int]{
	Name:     "journal",
	Repeated: true,
	Parse:    parseSize,
}

func lastOr[T any](xs []T, def T) T {
	if len(xs) == 0 {
		return def
	}
	return xs[len(xs)-1]
}

// setup returns a context carrying a logger at the level from LogParam.
func setup(c star.Context) (context.Context, error) {
	cfg := zap.NewDevelopmentConfig()
	cfg.Level = zap.NewAtomicLevelAt(lastOr(LogParam.LoadAll(c), zapcore.WarnLevel))
	l, err := cfg.Build()
	if err != nil {
		return nil, err
	}
	return logctx.NewContext(c.Context, l), nil
}

func newRuntime(c star.Context) *lazy.Runtime {
	cfg := lazy.DefaultConfig()
	cfg.JournalSize = lastOr(JournalParam.LoadAll(c), 16)
	return lazy.New(cfg)
}
