// invigil-agent — the workstation process the daemon protects.
// Registers over the control socket, pushes the configured role and
// policy, heartbeats on the policy cadence, and serves the operator
// console for its seat.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/ppiankov/invigil/internal/agent"
	"github.com/ppiankov/invigil/internal/config"
	"github.com/ppiankov/invigil/internal/integrity"
)

// version is set by ldflags at build time.
var version = "dev"

var (
	configPath  = flag.String("config", "", "Config file path (default "+config.DefaultPath+")")
	socket      = flag.String("socket", "", "Control socket path (overrides config)")
	listen      = flag.String("console", "", "Console listen address (overrides config)")
	showVersion = flag.Bool("version", false, "Print version and exit")
)

func main() {
	flag.Parse()

	if *showVersion {
		fmt.Println(version)
		return
	}

	// Refuse to run a patched binary. The daemon raises the matching
	// alert when the agent subsequently fails to register.
	if err := integrity.Verify(); err != nil {
		log.Fatalf("[ERROR] agent: %v", err)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("[ERROR] agent: %v", err)
	}
	if *socket != "" {
		cfg.Socket = *socket
	}
	if *listen != "" {
		cfg.Console.Listen = *listen
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := agent.New(cfg).Run(ctx); err != nil {
		log.Fatalf("[ERROR] agent: %v", err)
	}
	log.Printf("[INFO] agent: shutdown complete")
}
