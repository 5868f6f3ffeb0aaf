package config

import (
	"fmt"
	"strings"

	"github.com/web2img/engine/internal/common/yamlutil"
)

// hostMappingsFile is the schema of the HOST_MAPPINGS_FILE YAML document
type hostMappingsFile struct {
	Mappings map[string]string `yaml:"mappings"`
}

// loadHostMappings resolves host mapping rules. HOST_MAPPINGS takes the
// inline form "src=dst,src2=dst2"; HOST_MAPPINGS_FILE points at a strict
// YAML file with a top-level "mappings" map. Inline wins when both are set.
func loadHostMappings(env *reader) (map[string]string, error) {
	if inline := env.str("HOST_MAPPINGS", ""); inline != "" {
		return ParseHostMappings(inline)
	}

	if path := env.str("HOST_MAPPINGS_FILE", ""); path != "" {
		var file hostMappingsFile
		if err := yamlutil.LoadStrict(path, &file); err != nil {
			return nil, err
		}
		return normalizeMappings(file.Mappings), nil
	}

	return map[string]string{}, nil
}

// ParseHostMappings parses the inline "src=dst,src2=dst2" form
func ParseHostMappings(raw string) (map[string]string, error) {
	mappings := make(map[string]string)
	for _, pair := range strings.Split(raw, ",") {
		pair = strings.TrimSpace(pair)
		if pair == "" {
			continue
		}
		src, dst, ok := strings.Cut(pair, "=")
		src, dst = strings.TrimSpace(src), strings.TrimSpace(dst)
		if !ok || src == "" || dst == "" {
			return nil, fmt.Errorf("invalid host mapping %q, want src=dst", pair)
		}
		mappings[strings.ToLower(src)] = strings.ToLower(dst)
	}
	return mappings, nil
}

func normalizeMappings(in map[string]string) map[string]string {
	out := make(map[string]string, len(in))
	for src, dst := range in {
		out[strings.ToLower(src)] = strings.ToLower(dst)
	}
	return out
}
