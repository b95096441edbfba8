package graph

import (
	"fmt"
	"os"
	"strings"

	"github.com/xeipuuv/gojsonschema"
	"gopkg.in/yaml.v3"
)

// Definition is the declarative description of a workflow: an ordered list
// of stages, optional routing rules on some of them, and the stages the
// engine pauses before. It is immutable once loaded.
type Definition struct {
	Name    string `yaml:"name" json:"name"`
	Version string `yaml:"version,omitempty" json:"version,omitempty"`

	// Entry defaults to the first stage.
	Entry string `yaml:"entry,omitempty" json:"entry,omitempty"`

	// InterruptBefore lists the stages execution pauses in front of until a
	// decision is supplied.
	InterruptBefore []string `yaml:"interrupt_before,omitempty" json:"interrupt_before,omitempty"`

	Stages []StageDescriptor `yaml:"stages" json:"stages"`
}

// StageDescriptor is one entry of Definition.Stages.
type StageDescriptor struct {
	ID          string   `yaml:"id" json:"id"`
	Description string   `yaml:"description,omitempty" json:"description,omitempty"`
	Routing     RuleKind `yaml:"routing,omitempty" json:"routing,omitempty"`
}

// StageIDs returns the stage ids in declaration order.
func (d Definition) StageIDs() []string {
	ids := make([]string, len(d.Stages))
	for i, s := range d.Stages {
		ids[i] = s.ID
	}
	return ids
}

// EntryStage returns the configured entry, or the first stage.
func (d Definition) EntryStage() string {
	if d.Entry != "" {
		return d.Entry
	}
	if len(d.Stages) > 0 {
		return d.Stages[0].ID
	}
	return ""
}

const definitionSchema = `{
  "$schema": "http://json-schema.org/draft-07/schema#",
  "type": "object",
  "required": ["name", "stages"],
  "additionalProperties": false,
  "properties": {
    "name": {"type": "string", "minLength": 1},
    "version": {"type": "string"},
    "entry": {"type": "string", "minLength": 1},
    "interrupt_before": {
      "type": "array",
      "items": {"type": "string", "minLength": 1},
      "uniqueItems": true
    },
    "stages": {
      "type": "array",
      "minItems": 1,
      "items": {
        "type": "object",
        "required": ["id"],
        "additionalProperties": false,
        "properties": {
          "id": {"type": "string", "pattern": "^[A-Za-z][A-Za-z0-9_]*$"},
          "description": {"type": "string"},
          "routing": {"type": "string", "minLength": 1}
        }
      }
    }
  }
}`

var definitionSchemaLoader = gojsonschema.NewStringLoader(definitionSchema)

// ParseDefinition decodes a YAML (or JSON) workflow definition and validates
// its shape. Structural problems are reported as *ConfigError; graph-level
// checks happen in Compile.
func ParseDefinition(data []byte) (Definition, error) {
	var doc map[string]interface{}
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return Definition{}, &ConfigError{Message: "parse definition: " + err.Error()}
	}
	if doc == nil {
		return Definition{}, &ConfigError{Message: "definition is empty"}
	}

	result, err := gojsonschema.Validate(definitionSchemaLoader, gojsonschema.NewGoLoader(doc))
	if err != nil {
		return Definition{}, &ConfigError{Message: "validate definition: " + err.Error()}
	}
	if !result.Valid() {
		msgs := make([]string, 0, len(result.Errors()))
		for _, e := range result.Errors() {
			msgs = append(msgs, e.String())
		}
		return Definition{}, &ConfigError{Message: "invalid definition: " + strings.Join(msgs, "; ")}
	}

	var def Definition
	if err := yaml.Unmarshal(data, &def); err != nil {
		return Definition{}, &ConfigError{Message: "decode definition: " + err.Error()}
	}
	return def, nil
}

// LoadDefinition reads and parses a definition file.
func LoadDefinition(path string) (Definition, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Definition{}, fmt.Errorf("read definition %s: %w", path, err)
	}
	return ParseDefinition(data)
}
