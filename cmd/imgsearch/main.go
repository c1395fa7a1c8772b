package main

import "imgsearch/internal/cli"

func main() {
	cli.Execute()
}
