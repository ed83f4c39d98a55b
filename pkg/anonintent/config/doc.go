/*
Package config provides loosely typed configuration extraction from
map[string]any, as produced by YAML, JSON or environment variables.

# Basic Usage

	cfg := config.New(map[string]any{
	    "apiKey":        "k-123",
	    "flush_interval": "45s",
	    "batchSize":     20,
	})

	interval := cfg.Duration("flushInterval", 30*time.Second) // 45s
	batch := cfg.Int("batch-size", 50)                        // 20

Key spelling is not significant: camelCase, snake_case and kebab-case all
resolve to the same entry. Dotted keys walk nested sections:

	cfg.Int("delivery.batchSize", 50)

# Type Coercion

Duration accepts time.ParseDuration strings, numbers of seconds (as numbers
or strings) and time.Duration values. Int, Float and Bool also accept
strings, so values read from the environment work unchanged.

All methods return the default value if:
  - The key is missing
  - The value cannot be converted to the requested type
  - The conversion would lose precision (e.g., float to int with fraction)

# Loading and Layering

	file, err := config.FromFile("anonintent.yaml")
	if err != nil {
	    return err
	}
	env := config.FromEnv("ANONINTENT", os.Environ())
	cfg := file.Merge(env) // environment wins

# Thread Safety

Config is safe for concurrent read access. The underlying map is not
modified after creation.
*/
package config
