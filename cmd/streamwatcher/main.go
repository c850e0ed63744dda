package main

import "streamwatcher/internal/cli"

func main() {
	cli.Execute()
}
