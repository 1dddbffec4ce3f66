package main

import "github.com/institutehub/webhook-gateway/cmd"

func main() {
	cmd.Execute()
}
