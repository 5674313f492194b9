package main

import (
	"github.com/wesleyorama2/surge/internal/cli"
)

func main() {
	cli.Execute()
}
