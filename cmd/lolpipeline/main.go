// Package main hosts the lolpipeline entrypoint.
package main

import "github.com/PadTo/lol-match-pipeline/cmd"

func main() {
	cmd.Execute()
}
