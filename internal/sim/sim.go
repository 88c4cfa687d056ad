// Package sim replays synthetic handle, file and launch events through
// the enforcement gates and reports every verdict. It is the harness
// for the interception facilities user space cannot register: the
// gates run exactly as they would under a host facility, against a
// state assembled from the scenario.
package sim

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/ppiankov/invigil/internal/alerts"
	"github.com/ppiankov/invigil/internal/config"
	"github.com/ppiankov/invigil/internal/filegate"
	"github.com/ppiankov/invigil/internal/handlegate"
	"github.com/ppiankov/invigil/internal/launchgate"
	"github.com/ppiankov/invigil/internal/proc"
	"github.com/ppiankov/invigil/internal/state"
)

// Setup seeds the enforcement state the events run against. Zero pids
// leave the matching slot unset; an empty policy section leaves the
// launch gate inert.
type Setup struct {
	ServicePid uint32        `yaml:"service_pid"`
	OverlayPid uint32        `yaml:"overlay_pid"`
	Policy     config.Policy `yaml:"policy"`
	BannedApps []string      `yaml:"banned_apps"`
}

// HandleEvent is one synthetic handle request. Rights zero asks for
// the full dangerous set plus one benign bit, which shows the strip
// clearly.
type HandleEvent struct {
	Caller    uint32 `yaml:"caller"`
	Target    uint32 `yaml:"target"`
	Object    string `yaml:"object"` // process (default) or thread
	Duplicate bool   `yaml:"duplicate"`
	Rights    uint32 `yaml:"rights"`
}

// FileEvent is one synthetic set-information operation.
type FileEvent struct {
	Caller uint32 `yaml:"caller"`
	Path   string `yaml:"path"`
	Class  string `yaml:"class"`  // delete (default), delete_ex, rename, rename_ex
	Delete *bool  `yaml:"delete"` // basic-class disposition flag; nil means set
}

// LaunchEvent is one synthetic process creation.
type LaunchEvent struct {
	Pid   uint32 `yaml:"pid"`
	Image string `yaml:"image"`
}

// Scenario is the YAML input: a state to assemble and the events to
// replay against it, in section order.
type Scenario struct {
	Setup  Setup         `yaml:"setup"`
	Handle []HandleEvent `yaml:"handle"`
	File   []FileEvent   `yaml:"file"`
	Launch []LaunchEvent `yaml:"launch"`
}

// Load reads a scenario YAML file.
func Load(path string) (Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Scenario{}, fmt.Errorf("sim: read scenario: %w", err)
	}
	var scn Scenario
	if err := yaml.Unmarshal(data, &scn); err != nil {
		return Scenario{}, fmt.Errorf("sim: parse scenario: %w", err)
	}
	return scn, nil
}

// Default returns the built-in demonstration scenario: a registered
// service and overlay, an armed launch policy, and one attacking and
// one innocent event per gate.
func Default() Scenario {
	return Scenario{
		Setup: Setup{
			ServicePid: 400,
			OverlayPid: 401,
			Policy: config.Policy{
				Flags:               []string{"block_apps"},
				HeartbeatIntervalMs: 2000,
				HeartbeatTimeoutMs:  6000,
				AllowedRoles:        []string{"student", "teacher", "admin"},
			},
			BannedApps: []string{"solitaire", "minesweeper"},
		},
		Handle: []HandleEvent{
			{Caller: 666, Target: 400},
			{Caller: 666, Target: 400, Object: "thread"},
			{Caller: 400, Target: 401},
			{Caller: 666, Target: 777},
		},
		File: []FileEvent{
			{Caller: 666, Path: "/usr/local/bin/invigil"},
			{Caller: 666, Path: "/usr/local/bin/invigil-agent", Class: "rename"},
			{Caller: 666, Path: "/tmp/report.txt"},
		},
		Launch: []LaunchEvent{
			{Pid: 900, Image: "/usr/games/solitaire"},
			{Pid: 901, Image: "/usr/bin/python3"},
		},
	}
}

// VerdictLine is one replayed event and the gate's answer.
type VerdictLine struct {
	Gate    string `json:"gate"`
	Subject string `json:"subject"`
	Verdict string `json:"verdict"`
	Detail  string `json:"detail,omitempty"`
}

// Result holds the complete replay output.
type Result struct {
	Total    int           `json:"total_events"`
	Denied   int           `json:"denied"`
	Stripped int           `json:"stripped"`
	Allowed  int           `json:"allowed"`
	Alerts   int           `json:"alerts_raised"`
	Lines    []VerdictLine `json:"verdicts"`
}

// Run assembles the state described by scn.Setup and replays every
// event through its gate.
func Run(scn Scenario) (*Result, error) {
	st := state.New()
	if scn.Setup.ServicePid != 0 {
		st.SetService(proc.StaticRef(scn.Setup.ServicePid))
	}
	if scn.Setup.OverlayPid != 0 {
		st.SetOverlay(scn.Setup.OverlayPid)
	}
	if len(scn.Setup.Policy.Flags) > 0 || len(scn.Setup.Policy.AllowedRoles) > 0 {
		pol, err := scn.Setup.Policy.Wire()
		if err != nil {
			return nil, fmt.Errorf("sim: setup: %w", err)
		}
		st.SetPolicy(pol)
	}
	if len(scn.Setup.BannedApps) > 0 {
		st.ReplaceBannedApps(scn.Setup.BannedApps)
	}

	result := &Result{}
	counter := alerts.RaiserFunc(func(alerts.Alert) { result.Alerts++ })

	hg := handlegate.New(st)
	fg := filegate.New(counter)
	lg := launchgate.New(st, counter)

	for _, ev := range scn.Handle {
		result.add(runHandle(hg, ev))
	}
	for _, ev := range scn.File {
		line, err := runFile(fg, ev)
		if err != nil {
			return nil, err
		}
		result.add(line)
	}
	for _, ev := range scn.Launch {
		result.add(runLaunch(lg, ev))
	}
	return result, nil
}

func (r *Result) add(line VerdictLine) {
	r.Total++
	switch line.Verdict {
	case "denied":
		r.Denied++
	case "stripped":
		r.Stripped++
	default:
		r.Allowed++
	}
	r.Lines = append(r.Lines, line)
}

func runHandle(g *handlegate.Gate, ev HandleEvent) VerdictLine {
	req := handlegate.Request{
		OwnerPid:  ev.Target,
		CallerPid: ev.Caller,
		Desired:   handlegate.Rights(ev.Rights),
	}
	objName := "process"
	if strings.EqualFold(ev.Object, "thread") {
		req.Object = handlegate.ObjectThread
		objName = "thread"
		if req.Desired == 0 {
			req.Desired = handlegate.StrippedThreadRights | 0x0040
		}
	} else if req.Desired == 0 {
		req.Desired = handlegate.StrippedProcessRights | 0x0400
	}
	if ev.Duplicate {
		req.Op = handlegate.OpDuplicate
	}

	granted := g.Evaluate(req)
	line := VerdictLine{
		Gate:    "handle",
		Subject: fmt.Sprintf("%d -> %d (%s)", ev.Caller, ev.Target, objName),
	}
	if granted == req.Desired {
		line.Verdict = "untouched"
	} else {
		line.Verdict = "stripped"
		line.Detail = fmt.Sprintf("0x%x -> 0x%x", uint32(req.Desired), uint32(granted))
	}
	return line
}

func runFile(g *filegate.Gate, ev FileEvent) (VerdictLine, error) {
	op := filegate.Operation{Path: ev.Path, CallerPid: ev.Caller, Delete: true}
	switch ev.Class {
	case "", "delete":
		op.Class = filegate.InfoDisposition
		if ev.Delete != nil {
			op.Delete = *ev.Delete
		}
	case "delete_ex":
		op.Class = filegate.InfoDispositionEx
	case "rename":
		op.Class = filegate.InfoRename
	case "rename_ex":
		op.Class = filegate.InfoRenameEx
	default:
		return VerdictLine{}, fmt.Errorf("sim: unknown file class %q (want delete, delete_ex, rename or rename_ex)", ev.Class)
	}

	line := VerdictLine{
		Gate:    "file",
		Subject: fmt.Sprintf("%s %s", classLabel(ev.Class), ev.Path),
	}
	if g.Evaluate(op) == filegate.Deny {
		line.Verdict = "denied"
	} else {
		line.Verdict = "passed"
	}
	return line, nil
}

func classLabel(class string) string {
	if class == "" {
		return "delete"
	}
	return class
}

func runLaunch(g *launchgate.Gate, ev LaunchEvent) VerdictLine {
	line := VerdictLine{
		Gate:    "launch",
		Subject: fmt.Sprintf("%s (pid %d)", ev.Image, ev.Pid),
	}
	if g.Evaluate(launchgate.Launch{Pid: ev.Pid, ImagePath: ev.Image}) == launchgate.Deny {
		line.Verdict = "denied"
	} else {
		line.Verdict = "allowed"
	}
	return line
}
