package main

import (
	"go.brendoncarroll.net/star"

	"myceliumweb.org/lazyrt/lazyrtcmd"
)

func main() {
	star.Main(lazyrtcmd.Root())
}
