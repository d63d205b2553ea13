package main

import "github.com/charliek/procio/internal/cli"

func main() {
	cli.Execute()
}
