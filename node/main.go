package main

import "github.com/derktes/spectral-capture-node/node/node"

func main() {
	node.Start()
}
