package hub

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"
)

const IndexFile = "model_index.json"

// Components a text-to-image pipeline cannot run without.
var components = []string{"scheduler", "tokenizer", "text_encoder", "unet", "vae"}

// Index is the parsed model_index.json of a diffusers pipeline.
type Index struct {
	ClassName string
	Version   string

	// Components maps a component name to its library and class. Entries
	// whose class is null are left out.
	Components map[string][2]string
}

func (i *Index) Has(component string) bool {
	_, ok := i.Components[component]
	return ok
}

func ReadIndex(dir string) (*Index, error) {
	b, err := os.ReadFile(filepath.Join(dir, IndexFile))
	if err != nil {
		return nil, err
	}
	return ParseIndex(b)
}

func ParseIndex(b []byte) (*Index, error) {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(b, &raw); err != nil {
		return nil, fmt.Errorf("parse %s: %w", IndexFile, err)
	}

	idx := &Index{Components: make(map[string][2]string)}
	for k, v := range raw {
		switch {
		case k == "_class_name":
			_ = json.Unmarshal(v, &idx.ClassName)
		case k == "_diffusers_version":
			_ = json.Unmarshal(v, &idx.Version)
		case strings.HasPrefix(k, "_"):
		default:
			var pair []*string
			if err := json.Unmarshal(v, &pair); err != nil || len(pair) != 2 {
				continue
			}
			if pair[0] == nil || pair[1] == nil {
				continue
			}
			idx.Components[k] = [2]string{*pair[0], *pair[1]}
		}
	}

	var missing []string
	for _, c := range components {
		if !idx.Has(c) {
			missing = append(missing, c)
		}
	}
	if len(missing) > 0 {
		slices.Sort(missing)
		return nil, fmt.Errorf("%s: pipeline %q lacks %s", IndexFile, idx.ClassName, strings.Join(missing, ", "))
	}
	return idx, nil
}
