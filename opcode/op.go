// package opcode enumerates the operations a thunk can run.
package opcode

import "fmt"

// Op identifies the code a thunk runs when it is entered.
type Op uint8

const (
	Unknown Op = iota

	// Constant () -> V
	Constant
	// Add (a: V, b: V) -> V
	Add
	// Switch (cond: Bool, a: V, b: V) -> V
	// a is selected when cond is false, b when cond is true.
	Switch

	// Func runs caller supplied entry code.
	Func
)

var names = map[Op]string{
	Unknown:  "unknown",
	Constant: "constant",
	Add:      "add",
	Switch:   "switch",
	Func:     "func",
}

func (o Op) String() string {
	if name, ok := names[o]; ok {
		return name
	}
	return fmt.Sprintf("Op(%d)", uint8(o))
}

// Parse returns the Op with the given name.
func Parse(x string) (Op, error) {
	for op, name := range names {
		if op != Unknown && name == x {
			return op, nil
		}
	}
	return Unknown, fmt.Errorf("unknown op %q", x)
}
