// Command pal is the personal AI assistant.
// It runs an interactive chat loop in the terminal or serves the chat API over HTTP.
package main

import (
	"os"
)

func main() {
	os.Exit(Cli(os.Args[1:], NewConfig()))
}
