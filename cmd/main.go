// cmd/main.go is the application entry point.
package main

import "github.com/Shivanand-hulikatti/settlement-engine/internal/cli"

func main() {
	cli.Execute()
}
