package main

import (
	"os"

	"github.com/yukia3e/invite-tier-relayer/cmd/relayctl/commands"
)

func main() {
	if err := commands.Execute(); err != nil {
		os.Exit(1)
	}
}
