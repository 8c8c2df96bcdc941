package main

import (
	"os"

	"github.com/CodeMonkeyCybersecurity/kaiju/cmd"
	"github.com/CodeMonkeyCybersecurity/kaiju/pkg/logger"
)

func main() {
	logger.InitFallback()
	os.Exit(cmd.Execute())
}
