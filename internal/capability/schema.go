package capability

import (
	"bytes"
	"encoding/json"
	"fmt"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/santhosh-tekuri/jsonschema/v5"
)

// schemaCache compiles tool input schemas once per distinct schema document,
// so a reload that leaves a tool unchanged reuses the compiled schema.
type schemaCache struct {
	cache *lru.Cache[string, *jsonschema.Schema]
}

func newSchemaCache(size int) (*schemaCache, error) {
	if size <= 0 {
		size = 256
	}
	c, err := lru.New[string, *jsonschema.Schema](size)
	if err != nil {
		return nil, err
	}
	return &schemaCache{cache: c}, nil
}

// compile returns nil (accept anything) for an empty schema.
func (s *schemaCache) compile(key string, raw json.RawMessage) (*jsonschema.Schema, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) || bytes.Equal(trimmed, []byte("{}")) {
		return nil, nil
	}
	if sch, ok := s.cache.Get(key); ok {
		return sch, nil
	}
	compiler := jsonschema.NewCompiler()
	url := "tool://" + key + ".json"
	if err := compiler.AddResource(url, bytes.NewReader(trimmed)); err != nil {
		return nil, fmt.Errorf("add schema resource: %w", err)
	}
	sch, err := compiler.Compile(url)
	if err != nil {
		return nil, fmt.Errorf("compile input schema: %w", err)
	}
	s.cache.Add(key, sch)
	return sch, nil
}

// validateArgs checks args against sch. Arguments are round-tripped through
// JSON so Go-typed values validate the way the server will see them.
func validateArgs(sch *jsonschema.Schema, args map[string]any) error {
	if sch == nil {
		return nil
	}
	if args == nil {
		args = map[string]any{}
	}
	raw, err := json.Marshal(args)
	if err != nil {
		return fmt.Errorf("encode arguments: %w", err)
	}
	var doc interface{}
	if err := json.Unmarshal(raw, &doc); err != nil {
		return fmt.Errorf("decode arguments: %w", err)
	}
	return sch.Validate(doc)
}
