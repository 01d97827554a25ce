package main

import (
	"os"

	"modkeeper/cmd"
	"modkeeper/logger"

	_ "go.uber.org/automaxprocs/maxprocs"
)

func main() {
	err := cmd.Execute()
	logger.Sync() // Ensure logs are flushed on exit
	if err != nil {
		os.Exit(1)
	}
}
