package canvas

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/tidwall/gjson"
)

// Entry is a resolved canvas server launch.
type Entry struct {
	// Dir is the server's working directory.
	Dir string
	// EntryPoint is the absolute path of the server script.
	EntryPoint string
	// Env is the KEY=VALUE overlay from the configuration, sorted by key.
	Env []string
}

// Reasons an entry does not resolve. They are logged, not returned to the host.
var (
	ErrNotConfigured = errors.New("canvas server is not configured")
	ErrDisabled      = errors.New("canvas server is disabled")
	ErrNoEntryPoint  = errors.New("canvas server entry point does not exist")
)

// ResolveEntry reads mcpServers.<server> from an MCP configuration document.
// A missing or malformed entry resolves to ErrNotConfigured; an entry with
// enabled set to false resolves to ErrDisabled.
func ResolveEntry(doc []byte, server, entryPoint string) (Entry, error) {
	if !gjson.ValidBytes(doc) {
		return Entry{}, fmt.Errorf("%w: mcp config is not valid JSON", ErrNotConfigured)
	}

	node := gjson.GetBytes(doc, "mcpServers."+gjsonEscape(server))
	if !node.IsObject() {
		return Entry{}, ErrNotConfigured
	}
	if enabled := node.Get("enabled"); enabled.Exists() && !enabled.Bool() {
		return Entry{}, ErrDisabled
	}

	dir := expandHome(strings.TrimSpace(node.Get("cwd").String()))
	if dir == "" {
		return Entry{}, fmt.Errorf("%w: no cwd", ErrNotConfigured)
	}

	script := entryPoint
	if !filepath.IsAbs(script) {
		script = filepath.Join(dir, script)
	}
	if info, err := os.Stat(script); err != nil || info.IsDir() {
		return Entry{}, fmt.Errorf("%w: %s", ErrNoEntryPoint, script)
	}

	var env []string
	node.Get("env").ForEach(func(key, value gjson.Result) bool {
		if value.Type == gjson.String {
			env = append(env, key.String()+"="+value.String())
		}
		return true
	})
	sort.Strings(env)

	return Entry{Dir: dir, EntryPoint: script, Env: env}, nil
}

// ReadEntry is ResolveEntry over the file at path.
func ReadEntry(path, server, entryPoint string) (Entry, error) {
	doc, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return Entry{}, fmt.Errorf("%w: %s does not exist", ErrNotConfigured, path)
	}
	if err != nil {
		return Entry{}, fmt.Errorf("read mcp config: %w", err)
	}
	return ResolveEntry(doc, server, entryPoint)
}

func expandHome(path string) string {
	if path != "~" && !strings.HasPrefix(path, "~/") {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	return filepath.Join(home, strings.TrimPrefix(strings.TrimPrefix(path, "~"), "/"))
}

func gjsonEscape(key string) string {
	r := strings.NewReplacer(".", `\.`, "*", `\*`, "?", `\?`)
	return r.Replace(key)
}
