package main

import (
	"context"
	"os"

	"github.com/namewise/runwatch-go/internal/cli"
)

func main() {
	cli.Run(context.Background(), os.Args[1:])
}
