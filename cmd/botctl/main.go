package main

import (
	"cvillebots/cmd/botctl/commands"
	"cvillebots/lib/telemetry"
)

func main() {
	telemetry.InitSlog(false)
	commands.Execute()
}
