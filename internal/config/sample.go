package config

import (
	"os"

	"gopkg.in/yaml.v3"
)

// WriteSample renders Default() to path as YAML, for the --create-sample-config
// CLI flag.
func WriteSample(path string) error {
	sample := sampleDocument()

	out, err := yaml.Marshal(sample)
	if err != nil {
		return err
	}

	return os.WriteFile(path, out, 0o644)
}

// sampleDocument returns a plain map so the emitted YAML shows every field
// with an explanatory adapter example, rather than Default()'s empty
// Adapters slice.
func sampleDocument() map[string]interface{} {
	cfg := Default()
	return map[string]interface{}{
		"api":           cfg.API,
		"cache":         cfg.Cache,
		"embedding":     cfg.Embedding,
		"scorer":        cfg.Scorer,
		"engine":        cfg.Engine,
		"observability": cfg.Observability,
		"adapters": []map[string]interface{}{
			{
				"type":     "file",
				"name":     "runbooks-local",
				"priority": 1,
				"enabled":  true,
				"timeout_ms": 2000,
				"max_retries": 2,
				"file": map[string]interface{}{
					"roots":            []string{"./runbooks"},
					"max_depth":        8,
					"watch_for_changes": true,
					"fuzzy_threshold":  0.3,
				},
			},
		},
	}
}
