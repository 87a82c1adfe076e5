// Package cache stores successful worker results on disk for methods that
// opt in with a cache_ttl.
package cache

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/lydakis/sidecar/internal/paths"
)

type entry struct {
	Method  string          `json:"method"`
	Result  json.RawMessage `json:"result"`
	Created time.Time       `json:"created"`
	Expires time.Time       `json:"expires"`
}

// Hit describes a cached result.
type Hit struct {
	Result json.RawMessage
	Age    time.Duration
	TTL    time.Duration
}

// Get looks up the result of method called with params by the worker
// identified by scope. Expired or unreadable entries are removed.
func Get(scope, method string, params json.RawMessage) (Hit, bool) {
	path := entryPath(scope, method, params)
	data, err := os.ReadFile(path)
	if err != nil {
		return Hit{}, false
	}

	var e entry
	if err := json.Unmarshal(data, &e); err != nil || e.Method != method {
		_ = os.Remove(path)
		return Hit{}, false
	}

	now := time.Now()
	if now.After(e.Expires) {
		_ = os.Remove(path)
		return Hit{}, false
	}

	return Hit{
		Result: e.Result,
		Age:    max(now.Sub(e.Created), 0),
		TTL:    max(e.Expires.Sub(e.Created), 0),
	}, true
}

// Put stores result for ttl.
func Put(scope, method string, params, result json.RawMessage, ttl time.Duration) error {
	if err := paths.EnsureDir(cacheDir()); err != nil {
		return err
	}

	now := time.Now()
	data, err := json.Marshal(entry{
		Method:  method,
		Result:  result,
		Created: now,
		Expires: now.Add(ttl),
	})
	if err != nil {
		return err
	}
	return os.WriteFile(entryPath(scope, method, params), data, 0o600)
}

// entryPath keys on compacted params so formatting differences still hit.
func entryPath(scope, method string, params json.RawMessage) string {
	var compact bytes.Buffer
	if err := json.Compact(&compact, params); err != nil {
		compact.Reset()
		compact.Write(params)
	}
	if compact.Len() == 0 {
		compact.WriteString("null")
	}

	h := sha256.New()
	fmt.Fprintf(h, "%s\x00%s\x00%s", scope, method, compact.Bytes())
	key := hex.EncodeToString(h.Sum(nil))[:32]
	return filepath.Join(cacheDir(), key+".json")
}

func cacheDir() string {
	return filepath.Join(paths.CacheDir(), "results")
}
