package lazyrtcmd

import (
	"context"
	"strconv"

	"go.brendoncarroll.net/star"
	"golang.org/x/sync/errgroup"

	"myceliumweb.org/lazyrt/graphfile"
	"myceliumweb.org/lazyrt/lazy"
)

var evalCmd = star.Command{
	Metadata: star.Metadata{
		Short: "evaluate the outputs of a graph file",
	},
	Flags: []star.IParam{LogParam, JournalParam},
	Pos:   []star.IParam{fileParam},
	F: func(c star.Context) error {
		ctx, err := setup(c)
		if err != nil {
			return err
		}
		rt := newRuntime(c)
		f := fileParam.Load(c)
		defer f.Close()
		g, err := graphfile.Load(ctx, rt, f)
		if err != nil {
			return err
		}
		return evalGraph(ctx, rt, g, c.Printf)
	},
}

type printfFunc = func(format string, args ...any)

// evalGraph evaluates every output of g concurrently, and prints them in order.
func evalGraph(ctx context.Context, rt *lazy.Runtime, g *graphfile.Graph, printf printfFunc) error {
	txn := rt.Txn()
	outputs := g.Outputs()
	vals := make([]any, len(outputs))
	eg, ctx := errgroup.WithContext(ctx)
	for i, name := range outputs {
		eg.Go(func() error {
			var err error
			vals[i], err = g.Eval(ctx, txn, name)
			return err
		})
	}
	if err := eg.Wait(); err != nil {
		return err
	}
	for i, name := range outputs {
		printf("%s = %v\n", name, vals[i])
	}
	return nil
}

func parseSize(x string) (int, error) {
	n, err := strconv.Atoi(x)
	if err != nil {
		return 0, err
	}
	if n < 1 {
		return 0, strconv.ErrRange
	}
	return n, nil
}
