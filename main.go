package main

import "github.com/kokokkkoko/csfloat-outbid-bot/internal/cli"

func main() {
	cli.Execute()
}
