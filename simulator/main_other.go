//go:build !linux

package main

import (
	"fmt"
	"os"
)

func main() {
	fmt.Println("the scanout simulator needs linux")
	os.Exit(1)
}
