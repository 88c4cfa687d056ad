// invigil — tamper-resistant enforcement daemon and control CLI.
// One binary serves the daemon (invigil serve) and every operator
// command against its control socket.
package main

import "github.com/ppiankov/invigil/internal/cli"

func main() {
	cli.Execute()
}
