package engine

import (
	"context"
	"fmt"
	"io"
	"strings"
)

// EnsureReady checks that the Engine is reachable and the named models are
// available, printing one status line per model to w. Models are never
// downloaded here; a missing model is reported with the command that fetches it.
func EnsureReady(ctx context.Context, e Engine, models []string, w io.Writer) error {
	if !e.IsRunning(ctx) {
		return fmt.Errorf("local inference engine is not running; start it with: ollama serve")
	}

	seen := make(map[string]bool, len(models))
	var missing []string
	for _, model := range models {
		if model == "" || seen[model] {
			continue
		}
		seen[model] = true

		if e.HasModel(ctx, model) {
			fmt.Fprintf(w, "model %s: ready\n", model)
			continue
		}
		fmt.Fprintf(w, "model %s: missing (run: ollama pull %s)\n", model, model)
		missing = append(missing, model)
	}

	if len(missing) > 0 {
		return fmt.Errorf("missing models: %s", strings.Join(missing, ", "))
	}
	return nil
}
