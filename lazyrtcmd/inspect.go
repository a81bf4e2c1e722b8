package lazyrtcmd

import (
	"context"
	"strings"

	"go.brendoncarroll.net/exp/slices2"
	"go.brendoncarroll.net/star"

	"myceliumweb.org/lazyrt/graphfile"
	"myceliumweb.org/lazyrt/heap"
	"myceliumweb.org/lazyrt/ident"
	"myceliumweb.org/lazyrt/lazy"
)

var inspectCmd = star.Command{
	Metadata: star.Metadata{
		Short: "evaluate a graph file and print the state of the heap",
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
		return inspectGraph(ctx, rt, g, c.Printf)
	},
}

// inspectGraph forces every output of g, then prints the heap.
// The heap is printed even if evaluation fails, and the evaluation error is returned afterwards.
func inspectGraph(ctx context.Context, rt *lazy.Runtime, g *graphfile.Graph, printf printfFunc) error {
	txn := rt.Txn()
	var evalErr error
	for _, name := range g.Outputs() {
		if evalErr = g.Force(ctx, txn, name); evalErr != nil {
			break
		}
	}

	names := make(map[ident.Stable]string)
	for _, name := range g.Names() {
		if stable, ok := g.Stable(name); ok {
			names[stable] = name
		}
	}
	st, err := rt.Heap().Stats(ctx)
	if err != nil {
		return err
	}
	printf("OBJECTS: %d (data=%d thunk=%d)\n", st.Objects, st.ByKind[heap.KindData], st.ByKind[heap.KindThunk])
	printf("LIVE-REFS: %d CONSUMERS: %d\n", st.LiveRefs, st.Consumers)
	printf("THUNKS:\n")
	thunks, err := rt.Thunks(ctx)
	if err != nil {
		return err
	}
	for _, th := range thunks {
		deps := slices2.Map(th.FreeVars(), func(t ident.Tag) string { return t.String() })
		printf("  %-6v %-8s %-8v %-9v [%s]", th.Stable(), names[th.Stable()], th.Op(), th.State(), strings.Join(deps, " "))
		if txn, ok := th.ValidIn(); ok {
			printf(" %v", txn)
		}
		printf("\n")
	}
	recent := rt.Recent()
	printf("RECENT (%d of %d):\n", len(recent), rt.JournalCap())
	for _, rec := range recent {
		printf("  %v %v %v\n", rec.Txn, rec.Stable, rec.Op)
	}
	return evalErr
}
