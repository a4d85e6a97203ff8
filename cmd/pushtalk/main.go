// Command pushtalk is a push-to-talk channel client.
//
// Usage:
//
//	pushtalk [flags] <command> [args]
//
// Commands:
//
//	listen - join the channel and write incoming audio as raw PCM
//	send   - send a text message
//	talk   - stream raw PCM from a file or stdin into the channel
//
// Configuration:
//
//	Settings are read from config.yaml (see --config). Credentials come from
//	the ZELLO_USERNAME, ZELLO_PASSWORD, ZELLO_TOKEN and ZELLO_CHANNEL
//	environment variables, optionally loaded from a .env file.
package main

import (
	"fmt"
	"os"

	"github.com/MrWong99/pushtalk/cmd/pushtalk/commands"
)

func main() {
	if err := commands.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
