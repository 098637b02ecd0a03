package main

import "github.com/throttle-gate/throttlegate/cmd/throttle-gate/cmd"

func main() {
	cmd.Execute()
}
