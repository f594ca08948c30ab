// callguard authorizes agent tool calls against a task's capability session
// and tool policy.
package main

import "github.com/ppiankov/callguard/internal/cli"

func main() {
	cli.Execute()
}
