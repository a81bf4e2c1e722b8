package opcode

// Info is information about Operations
type Info struct {
	// InDegree is the number of operands. -1 means any number.
	InDegree int `json:"inDegree"`
}

func (o Op) Info() Info {
	return infos[o]
}

// InDegree returns the number of operands an operation with this code takes
func (o Op) InDegree() int {
	n := infos[o].InDegree
	if n < 0 {
		return 0
	}
	return n
}

// Variadic is true if the operation takes any number of operands.
func (o Op) Variadic() bool {
	return infos[o].InDegree < 0
}

var infos = map[Op]Info{
	Constant: {0},
	Add:      {2},
	Switch:   {3},
	Func:     {-1},
}
