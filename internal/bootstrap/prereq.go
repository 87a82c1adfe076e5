// Package bootstrap checks that a configured worker can be launched before
// it is written to config.
package bootstrap

import (
	"fmt"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/lydakis/sidecar/internal/config"
)

var lookPathFn = exec.LookPath

// CheckWorker reports a worker whose executable cannot be found. A worker
// started through env(1) also needs the program env runs.
func CheckWorker(w config.WorkerConfig) error {
	command := strings.TrimSpace(w.Command)
	if command == "" {
		return nil
	}
	if _, err := lookPathFn(command); err != nil {
		return fmt.Errorf("worker runtime %q not found in PATH", command)
	}

	if filepath.Base(command) != "env" {
		return nil
	}
	if wrapped := envTarget(w.Args); wrapped != "" {
		if _, err := lookPathFn(wrapped); err != nil {
			return fmt.Errorf("worker runtime %q not found in PATH", wrapped)
		}
	}
	return nil
}

// envTarget returns the program env(1) would execute given args.
func envTarget(args []string) string {
	for i := 0; i < len(args); i++ {
		tok := strings.TrimSpace(args[i])
		switch {
		case tok == "":
		case tok == "--":
			return envTarget(dropAssignments(args[i+1:]))
		case tok == "-S" || tok == "--split-string":
			if i+1 < len(args) {
				return envTarget(strings.Fields(args[i+1]))
			}
			return ""
		case strings.HasPrefix(tok, "-S="), strings.HasPrefix(tok, "--split-string="):
			_, rest, _ := strings.Cut(tok, "=")
			return envTarget(strings.Fields(rest))
		case tok == "-u" || tok == "--unset" || tok == "-C" || tok == "--chdir":
			i++
		case strings.HasPrefix(tok, "-"):
		case strings.Index(tok, "=") > 0:
		default:
			return unquote(tok)
		}
	}
	return ""
}

func dropAssignments(args []string) []string {
	for i, a := range args {
		if strings.Index(a, "=") <= 0 {
			return args[i:]
		}
	}
	return nil
}

func unquote(tok string) string {
	if len(tok) >= 2 && (tok[0] == '"' || tok[0] == '\'') && tok[len(tok)-1] == tok[0] {
		return tok[1 : len(tok)-1]
	}
	return tok
}
