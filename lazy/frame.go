package lazy

import "context"

// frame is one thunk being entered.
// Frames link to the frame whose entry forced them, so a chain of frames is an evaluation path.
// The child and blockedOn fields are guarded by Runtime.waitMu.
type frame struct {
	parent *frame

	// child is the frame currently being entered below this one, on the same goroutine.
	child *frame
	// blockedOn is the frame evaluating a thunk this frame is waiting for.
	blockedOn *frame
}

type frameKey struct{}

func frameFrom(ctx context.Context) *frame {
	fr, _ := ctx.Value(frameKey{}).(*frame)
	return fr
}

func withFrame(ctx context.Context, fr *frame) context.Context {
	return context.WithValue(ctx, frameKey{}, fr)
}

// onPath returns true if fr is x or one of x's ancestors.
func (fr *frame) onPath(x *frame) bool {
	for f := x; f != nil; f = f.parent {
		if f == fr {
			return true
		}
	}
	return false
}

// deepest follows child links to the frame which is currently running.
func (fr *frame) deepest() *frame {
	for fr.child != nil {
		fr = fr.child
	}
	return fr
}

// waitWouldCycle returns true if the evaluation path ending at me waiting for owner can never finish.
// That is the case when owner is on the path, or owner is blocked, transitively, on a frame on the path.
// It must be called with Runtime.waitMu held.
func waitWouldCycle(me, owner *frame) bool {
	seen := make(map[*frame]struct{})
	for g := owner; g != nil; {
		if g.onPath(me) {
			return true
		}
		if _, exists := seen[g]; exists {
			return false
		}
		seen[g] = struct{}{}
		g = g.deepest().blockedOn
	}
	return false
}
