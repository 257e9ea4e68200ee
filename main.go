package main

import (
	"github.com/kirin-3/stickykeeper/cmd"
)

func main() {
	cmd.Execute()
}
