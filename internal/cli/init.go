package cli

import (
	"fmt"
	"io"
	"strings"

	"github.com/lydakis/sidecar/internal/bootstrap"
	"github.com/lydakis/sidecar/internal/config"
	"github.com/lydakis/sidecar/internal/ipc"
	"github.com/lydakis/sidecar/internal/paths"
)

type initArgs struct {
	command    string
	args       []string
	dir        string
	rootMarker string
	fire       []string
	force      bool
	help       bool
}

var (
	configPathFn  = paths.ConfigFile
	checkWorkerFn = bootstrap.CheckWorker
)

func runInit(args []string, stdout, stderr io.Writer) int {
	parsed, err := parseInitArgs(args)
	if err != nil {
		fmt.Fprintf(stderr, "sidecar: %v\n", err)
		printInitHelp(stderr)
		return ipc.ExitUsageErr
	}
	if parsed.help {
		printInitHelp(stdout)
		return ipc.ExitOK
	}

	cfgPath := configPathFn()
	cfg, err := config.LoadForEditFrom(cfgPath)
	if err != nil {
		fmt.Fprintf(stderr, "sidecar: init: loading config: %v\n", err)
		return ipc.ExitInternal
	}

	exists := cfg.Worker.Command != ""
	if exists && !parsed.force {
		fmt.Fprintf(stderr, "sidecar: init: worker already configured in %s; rerun with --force to replace it\n", cfgPath)
		return ipc.ExitUsageErr
	}

	cfg.Worker = config.WorkerConfig{
		Command:    parsed.command,
		Args:       parsed.args,
		Dir:        parsed.dir,
		RootMarker: parsed.rootMarker,
		Env:        cfg.Worker.Env,
	}
	if len(parsed.fire) > 0 {
		cfg.Protocol.FireMethods = parsed.fire
	}

	if err := checkWorkerFn(config.ExpandWorker(cfg.Worker)); err != nil {
		fmt.Fprintf(stderr, "sidecar: init: %v\n", err)
		return ipc.ExitUsageErr
	}
	if err := config.Validate(cfg); err != nil {
		fmt.Fprintf(stderr, "sidecar: init: invalid resulting config: %v\n", err)
		return ipc.ExitUsageErr
	}
	if err := config.SaveTo(cfgPath, cfg); err != nil {
		fmt.Fprintf(stderr, "sidecar: init: writing config: %v\n", err)
		return ipc.ExitInternal
	}

	verb := "Wrote"
	if exists {
		verb = "Replaced"
	}
	fmt.Fprintf(stdout, "%s worker %q in %s\n", verb, parsed.command, cfgPath)
	return ipc.ExitOK
}

func parseInitArgs(args []string) (*initArgs, error) {
	parsed := &initArgs{}

	value := func(i *int, arg, name string) (string, error) {
		if v, ok := strings.CutPrefix(arg, name+"="); ok {
			if strings.TrimSpace(v) == "" {
				return "", fmt.Errorf("missing value for %s", name)
			}
			return v, nil
		}
		if *i+1 >= len(args) {
			return "", fmt.Errorf("missing value for %s", name)
		}
		*i++
		return args[*i], nil
	}

	for i := 0; i < len(args); i++ {
		arg := args[i]
		name, _, _ := strings.Cut(arg, "=")
		switch name {
		case "--help", "-h":
			parsed.help = true
		case "--force":
			parsed.force = true
		case "--command", "--arg", "--dir", "--root-marker", "--fire":
			v, err := value(&i, arg, name)
			if err != nil {
				return nil, err
			}
			switch name {
			case "--command":
				parsed.command = v
			case "--arg":
				parsed.args = append(parsed.args, v)
			case "--dir":
				parsed.dir = v
			case "--root-marker":
				parsed.rootMarker = v
			case "--fire":
				parsed.fire = append(parsed.fire, v)
			}
		default:
			return nil, fmt.Errorf("unexpected argument: %s", arg)
		}
	}

	if parsed.help {
		return parsed, nil
	}
	if strings.TrimSpace(parsed.command) == "" {
		return nil, fmt.Errorf("missing --command (usage: sidecar init --command <program>)")
	}
	return parsed, nil
}
