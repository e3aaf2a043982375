package main

import (
	"github.com/sidkik/dotsync/cmd"
	"github.com/sidkik/dotsync/cmd/util"
)

func main() {
	defer util.HandlePanic()
	cmd.Execute()
}
