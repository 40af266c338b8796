// Command hookline runs the webhook delivery service.
package main

import "github.com/xraph/hookline/internal/cli"

func main() {
	cli.Execute()
}
