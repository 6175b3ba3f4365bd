package main

import (
	"wgsession/cmd"

	_ "go.uber.org/automaxprocs"
)

func main() {
	cmd.Execute()
}
