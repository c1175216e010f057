// bizassist 命令行入口
package main

import (
	"context"
	"fmt"
	"os"
	_ "time/tzdata"
)

func main() {
	if err := Execute(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
