package main

import "github.com/derktes/spectral-capture-node/station/station"

func main() {
	station.Start()
}
