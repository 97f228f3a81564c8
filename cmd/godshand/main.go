package main

import (
	"godshand-relief/internal/cli"
)

func main() {
	cli.Execute()
}
