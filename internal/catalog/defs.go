package catalog

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/timebase-io/timebase/internal/ast"
)

// aggregateDef is the on-disk YAML shape for an extension aggregate.
// Each file may define any number of aggregates under `aggregates:`.
type aggregateDef struct {
	Name           string   `yaml:"name"`
	Args           []string `yaml:"args"`
	Kind           string   `yaml:"kind"` // normal (default), ordered_set, hypothetical
	Combine        bool     `yaml:"combine"`
	OpaqueState    bool     `yaml:"opaque_state"`
	HasDeserialize bool     `yaml:"deserialize"`
}

type aggregateDefFile struct {
	Aggregates []aggregateDef `yaml:"aggregates"`
}

// LoadAggregateDefs merges extension aggregate definitions from *.yaml files
// in dir into the registry. A missing directory is valid (zero extension
// aggregates configured). Definitions are loaded once at startup.
func (r *Registry) LoadAggregateDefs(dir string) error {
	info, err := os.Stat(dir)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("aggregate defs dir: %w", err)
	}
	if !info.IsDir() {
		return fmt.Errorf("aggregate defs path %q is not a directory", dir)
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		return fmt.Errorf("reading aggregate defs dir: %w", err)
	}

	for _, e := range entries {
		if e.IsDir() || (!strings.HasSuffix(e.Name(), ".yaml") && !strings.HasSuffix(e.Name(), ".yml")) {
			continue
		}
		path := filepath.Join(dir, e.Name())
		data, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("reading aggregate defs file %s: %w", path, err)
		}
		var file aggregateDefFile
		if err := yaml.Unmarshal(data, &file); err != nil {
			return fmt.Errorf("parsing aggregate defs file %s: %w", path, err)
		}
		for _, def := range file.Aggregates {
			if def.Name == "" {
				return fmt.Errorf("aggregate defs file %s: aggregate without a name", path)
			}
			kind, err := parseAggKind(def.Kind)
			if err != nil {
				return fmt.Errorf("aggregate %q: %w", def.Name, err)
			}
			args, err := parseArgTypes(def.Args)
			if err != nil {
				return fmt.Errorf("aggregate %q: %w", def.Name, err)
			}
			sig := fmt.Sprintf("%s(%s)", def.Name, strings.Join(def.Args, ","))
			r.RegisterAggregate(def.Name, AggregateInfo{
				Signature:      sig,
				Kind:           kind,
				HasCombine:     def.Combine,
				OpaqueState:    def.OpaqueState,
				HasDeserialize: def.HasDeserialize,
			}, args...)
		}
	}
	return nil
}

func parseAggKind(s string) (ast.AggKind, error) {
	switch s {
	case "", "normal":
		return ast.AggKindNormal, nil
	case "ordered_set":
		return ast.AggKindOrderedSet, nil
	case "hypothetical":
		return ast.AggKindHypothetical, nil
	default:
		return 0, fmt.Errorf("unsupported aggregate kind %q", s)
	}
}

func parseArgTypes(names []string) ([]ast.Type, error) {
	out := make([]ast.Type, 0, len(names))
	for _, n := range names {
		t, err := parseTypeName(n)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, nil
}

func parseTypeName(n string) (ast.Type, error) {
	switch strings.ToLower(n) {
	case "bool", "boolean":
		return ast.TypeBool, nil
	case "smallint", "int2":
		return ast.TypeInt2, nil
	case "integer", "int", "int4":
		return ast.TypeInt4, nil
	case "bigint", "int8":
		return ast.TypeInt8, nil
	case "real", "float4":
		return ast.TypeFloat4, nil
	case "double precision", "float8":
		return ast.TypeFloat8, nil
	case "numeric", "decimal":
		return ast.TypeNumeric, nil
	case "text":
		return ast.TypeText, nil
	case "bytea":
		return ast.TypeBytes, nil
	case "timestamp":
		return ast.TypeTimestamp, nil
	case "timestamptz":
		return ast.TypeTimestampTZ, nil
	case "date":
		return ast.TypeDate, nil
	case "interval":
		return ast.TypeInterval, nil
	default:
		return ast.TypeInvalid, fmt.Errorf("unsupported argument type %q", n)
	}
}
