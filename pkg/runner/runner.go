package runner

import (
	"bytes"
	"context"
	"os"

	"github.com/dimiro1/banner"
)

type State int

const (
	StateNew State = iota
	StateStarting
	StateRunning
	StateDraining
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateNew:
		return "new"
	case StateStarting:
		return "starting"
	case StateRunning:
		return "running"
	case StateDraining:
		return "draining"
	case StateStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// Runner owns the process lifecycle around the bridge engine.
type Runner interface {
	Run(ctx context.Context) error
	Stop() error
	State() State
}

// Hooks fire at lifecycle edges. OnStart runs after the banner, before the
// engine accepts calls; OnStop runs after draining completes.
type Hooks struct {
	OnStart func()
	OnStop  func()
}

// Drainer is the component that must finish in-flight calls before the
// process exits.
type Drainer interface {
	Drain() error
}

const ServerVersion = "dev"

func PrintBanner() {
	tpl := "{{ .Title \"MEDIA BRIDGE\" \"\" 0 }}\nVersion: " + ServerVersion + "\n"
	banner.Init(os.Stdout, true, true, bytes.NewBufferString(tpl))
}
