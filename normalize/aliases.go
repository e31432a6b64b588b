package normalize

import (
	_ "embed"
	"encoding/json"
	"fmt"
	"os"
	"regexp"
	"sort"
	"strings"

	"github.com/Masterminds/semver/v3"
	"github.com/santhosh-tekuri/jsonschema/v5"
	"gopkg.in/yaml.v3"
)

// Field is a canonical column of the CDR schema, or an auxiliary column the
// normalizer combines into one (date + time, lat_lon).
type Field string

const (
	FieldCaller       Field = "caller"
	FieldCallee       Field = "callee"
	FieldTimestamp    Field = "timestamp"
	FieldDate         Field = "date"
	FieldTime         Field = "time"
	FieldDuration     Field = "duration"
	FieldIMEI         Field = "imei"
	FieldIMSI         Field = "imsi"
	FieldSubscriberID Field = "subscriber_id"
	FieldCellTower    Field = "cell_tower"
	FieldCallType     Field = "call_type"
	FieldLat          Field = "lat"
	FieldLon          Field = "lon"
	FieldLatLon       Field = "lat_lon"
)

// SupportedAliasVersions is the range of alias-table versions this build reads.
const SupportedAliasVersions = "^1"

//go:embed aliases.yaml
var defaultAliases []byte

const aliasSchema = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "type": "object",
  "required": ["version", "fields"],
  "additionalProperties": false,
  "properties": {
    "version": {"type": "string", "minLength": 1},
    "fields": {
      "type": "object",
      "propertyNames": {"enum": [
        "caller", "callee", "timestamp", "date", "time", "duration", "imei", "imsi",
        "subscriber_id", "cell_tower", "call_type", "lat", "lon", "lat_lon"
      ]},
      "additionalProperties": {
        "type": "array",
        "minItems": 1,
        "items": {"type": "string", "minLength": 1}
      }
    }
  }
}`

var compiledAliasSchema = jsonschema.MustCompileString("https://cdr-intel.local/schema/aliases.json", aliasSchema)

// AliasTable maps header spellings to canonical fields.
type AliasTable struct {
	Version *semver.Version
	byAlias map[string]Field
}

var headerRE = regexp.MustCompile(`[\s_.]+`)

// NormHeader lower-cases a header and collapses spaces, underscores and dots.
func NormHeader(s string) string {
	return strings.TrimSpace(headerRE.ReplaceAllString(strings.ToLower(strings.TrimSpace(s)), " "))
}

// DefaultAliasTable returns the table embedded in the binary.
func DefaultAliasTable() *AliasTable {
	t, err := ParseAliasTable(defaultAliases)
	if err != nil {
		panic(fmt.Errorf("embedded alias table: %w", err))
	}
	return t
}

// LoadAliasTable reads an alias table from a YAML or JSON file.
func LoadAliasTable(path string) (*AliasTable, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read alias table: %w", err)
	}
	t, err := ParseAliasTable(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return t, nil
}

// ParseAliasTable validates and indexes an alias table document. An alias
// that maps to two different fields is rejected.
func ParseAliasTable(data []byte) (*AliasTable, error) {
	var doc any
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("decode alias table: %w", err)
	}
	// round-trip through JSON so the validator sees JSON value types
	raw, err := json.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("decode alias table: %w", err)
	}
	var inst any
	if err := json.Unmarshal(raw, &inst); err != nil {
		return nil, fmt.Errorf("decode alias table: %w", err)
	}
	if err := compiledAliasSchema.Validate(inst); err != nil {
		return nil, fmt.Errorf("invalid alias table: %w", err)
	}

	var table struct {
		Version string              `json:"version"`
		Fields  map[string][]string `json:"fields"`
	}
	if err := json.Unmarshal(raw, &table); err != nil {
		return nil, fmt.Errorf("decode alias table: %w", err)
	}

	v, err := semver.NewVersion(table.Version)
	if err != nil {
		return nil, fmt.Errorf("alias table version %q: %w", table.Version, err)
	}
	c, err := semver.NewConstraint(SupportedAliasVersions)
	if err != nil {
		return nil, err
	}
	if !c.Check(v) {
		return nil, fmt.Errorf("alias table version %s not in %s", v, SupportedAliasVersions)
	}

	t := &AliasTable{Version: v, byAlias: map[string]Field{}}
	for field, aliases := range table.Fields {
		f := Field(field)
		for _, a := range append(aliases, field) {
			key := NormHeader(a)
			if prev, ok := t.byAlias[key]; ok && prev != f {
				return nil, fmt.Errorf("alias %q maps to both %s and %s", a, prev, f)
			}
			t.byAlias[key] = f
		}
	}
	return t, nil
}

// Lookup returns the field a header maps to.
func (t *AliasTable) Lookup(header string) (Field, bool) {
	f, ok := t.byAlias[NormHeader(header)]
	return f, ok
}

// Aliases returns the normalized spellings registered for f, sorted.
func (t *AliasTable) Aliases(f Field) []string {
	var out []string
	for a, g := range t.byAlias {
		if g == f {
			out = append(out, a)
		}
	}
	sort.Strings(out)
	return out
}
