package main

import (
	"fmt"
	"os"

	"github.com/yamada-sexta/touitomamout-next/internal/cli"
)

func main() {
	if err := cli.NewRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(cli.GetExitCode(err))
	}
}
