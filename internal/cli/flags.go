package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"
)

// reservedParamPrefix lets a param collide with a global flag name:
// --param-verbose sets params.verbose.
const reservedParamPrefix = "--param-"

type callArgs struct {
	params   json.RawMessage
	cacheTTL *time.Duration
	verbose  bool
	quiet    bool
	help     bool
}

// parseCallArgs reads worker params from one positional JSON value, from
// --key=value flags, or from stdin when neither is given and stdin is not a
// terminal. Without any of them params stay nil and the worker receives null.
func parseCallArgs(args []string, stdin io.Reader, stdinIsTTY bool) (*callArgs, error) {
	parsed := &callArgs{}
	flagParams := make(map[string]any)

	var positionalJSON string
	hasParamFlags := false
	hasAnyFlags := false
	afterSeparator := false

	for i := 0; i < len(args); i++ {
		arg := args[i]
		if arg == "--" {
			afterSeparator = true
			continue
		}

		if !afterSeparator {
			switch {
			case arg == "-v" || arg == "--verbose":
				parsed.verbose = true
				hasAnyFlags = true
				continue
			case arg == "-q" || arg == "--quiet":
				parsed.quiet = true
				hasAnyFlags = true
				continue
			case arg == "-h" || arg == "--help":
				parsed.help = true
				hasAnyFlags = true
				continue
			case strings.HasPrefix(arg, "--cache="):
				if err := setCacheTTL(parsed, strings.TrimPrefix(arg, "--cache=")); err != nil {
					return nil, err
				}
				hasAnyFlags = true
				continue
			case arg == "--cache":
				if i+1 >= len(args) {
					return nil, fmt.Errorf("missing value for --cache")
				}
				i++
				if err := setCacheTTL(parsed, args[i]); err != nil {
					return nil, err
				}
				hasAnyFlags = true
				continue
			case arg == "--no-cache":
				if parsed.cacheTTL != nil {
					return nil, fmt.Errorf("conflicting cache flags")
				}
				ttl := time.Duration(0)
				parsed.cacheTTL = &ttl
				hasAnyFlags = true
				continue
			}
		}

		if strings.HasPrefix(arg, "--") {
			flagArg := arg
			if strings.HasPrefix(arg, reservedParamPrefix) {
				flagArg = "--" + strings.TrimPrefix(arg, reservedParamPrefix)
			}
			if positionalJSON != "" {
				return nil, fmt.Errorf("cannot mix positional JSON params with --flags")
			}

			key, value, err := parseLongFlagValue(args, &i, flagArg)
			if err != nil {
				return nil, err
			}
			putArgValue(flagParams, key, value)
			hasParamFlags = true
			hasAnyFlags = true
			continue
		}

		if strings.HasPrefix(arg, "-") && !looksLikeJSONNumber(arg) {
			return nil, fmt.Errorf("unsupported short flag: %s", arg)
		}

		if hasParamFlags {
			return nil, fmt.Errorf("unexpected positional argument: %s", arg)
		}
		if positionalJSON != "" {
			return nil, fmt.Errorf("multiple positional arguments are not supported")
		}
		positionalJSON = arg
	}

	switch {
	case positionalJSON != "":
		raw, err := parseJSONValue(positionalJSON)
		if err != nil {
			return nil, err
		}
		parsed.params = raw
	case hasParamFlags:
		raw, err := json.Marshal(flagParams)
		if err != nil {
			return nil, fmt.Errorf("encoding params: %w", err)
		}
		parsed.params = raw
	case !hasAnyFlags && !stdinIsTTY && stdin != nil:
		data, err := io.ReadAll(stdin)
		if err != nil {
			return nil, fmt.Errorf("reading stdin: %w", err)
		}
		if trimmed := strings.TrimSpace(string(data)); trimmed != "" {
			raw, err := parseJSONValue(trimmed)
			if err != nil {
				return nil, err
			}
			parsed.params = raw
		}
	}

	return parsed, nil
}

func setCacheTTL(parsed *callArgs, raw string) error {
	if parsed.cacheTTL != nil {
		return fmt.Errorf("conflicting cache flags")
	}
	ttl, err := parseCacheDuration(raw)
	if err != nil {
		return err
	}
	parsed.cacheTTL = &ttl
	return nil
}

// parseJSONValue accepts any JSON document; worker params need not be
// objects.
func parseJSONValue(raw string) (json.RawMessage, error) {
	if !json.Valid([]byte(raw)) {
		var probe any
		err := json.Unmarshal([]byte(raw), &probe)
		return nil, fmt.Errorf("invalid JSON params: %w", err)
	}
	return json.RawMessage(raw), nil
}

func looksLikeJSONNumber(arg string) bool {
	return len(arg) > 1 && arg[1] >= '0' && arg[1] <= '9'
}

func parseLongFlagValue(args []string, idx *int, token string) (string, any, error) {
	body := strings.TrimPrefix(token, "--")
	if body == "" {
		return "", nil, fmt.Errorf("invalid flag: %s", token)
	}

	if eq := strings.Index(body, "="); eq >= 0 {
		key := body[:eq]
		if key == "" {
			return "", nil, fmt.Errorf("invalid flag: %s", token)
		}
		return key, body[eq+1:], nil
	}

	if *idx+1 < len(args) && !strings.HasPrefix(args[*idx+1], "--") {
		*idx = *idx + 1
		return body, args[*idx], nil
	}

	return body, true, nil
}

func putArgValue(dst map[string]any, key string, value any) {
	if existing, ok := dst[key]; ok {
		switch v := existing.(type) {
		case []any:
			dst[key] = append(v, value)
		default:
			dst[key] = []any{v, value}
		}
		return
	}
	dst[key] = value
}

func parseCacheDuration(raw string) (time.Duration, error) {
	ttl, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid --cache value: %w", err)
	}
	if ttl <= 0 {
		return 0, fmt.Errorf("--cache must be > 0")
	}
	return ttl, nil
}

// parseEventsArgs reads repeated --name filters.
func parseEventsArgs(args []string) (names []string, help bool, err error) {
	for i := 0; i < len(args); i++ {
		arg := args[i]
		switch {
		case arg == "-h" || arg == "--help":
			help = true
		case strings.HasPrefix(arg, "--name="):
			value := strings.TrimSpace(strings.TrimPrefix(arg, "--name="))
			if value == "" {
				return nil, false, fmt.Errorf("missing value for --name")
			}
			names = append(names, value)
		case arg == "--name" || arg == "-n":
			if i+1 >= len(args) || strings.HasPrefix(args[i+1], "-") {
				return nil, false, fmt.Errorf("missing value for --name")
			}
			i++
			names = append(names, args[i])
		default:
			return nil, false, fmt.Errorf("unexpected argument: %s", arg)
		}
	}
	return names, help, nil
}
