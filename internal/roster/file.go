package roster

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/tidwall/jsonc"
	"gopkg.in/yaml.v3"
)

// ReadDirectoryFile parses a directory export. The format follows the file
// extension: .json, .jsonc, .yaml or .yml. Both a bare list and an object
// with a "people" list are accepted.
func ReadDirectoryFile(path string) ([]Person, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading directory file: %w", err)
	}
	people, err := ParseDirectory(filepath.Ext(path), data)
	if err != nil {
		return nil, fmt.Errorf("parsing %s: %w", filepath.Base(path), err)
	}
	return people, nil
}

type directoryDoc struct {
	People []Person `json:"people" yaml:"people"`
}

// ParseDirectory decodes directory data in the format named by ext.
func ParseDirectory(ext string, data []byte) ([]Person, error) {
	var (
		people []Person
		err    error
	)
	switch strings.ToLower(ext) {
	case ".json", ".jsonc":
		people, err = decodeJSON(jsonc.ToJSON(data))
	case ".yaml", ".yml":
		people, err = decodeYAML(data)
	default:
		return nil, fmt.Errorf("unsupported directory format %q", ext)
	}
	if err != nil {
		return nil, err
	}
	people = valid(people)
	if len(people) == 0 {
		return nil, fmt.Errorf("directory has no entries with an email")
	}
	return people, nil
}

func decodeJSON(data []byte) ([]Person, error) {
	trimmed := strings.TrimSpace(string(data))
	if strings.HasPrefix(trimmed, "{") {
		var doc directoryDoc
		if err := json.Unmarshal(data, &doc); err != nil {
			return nil, err
		}
		return doc.People, nil
	}
	var people []Person
	if err := json.Unmarshal(data, &people); err != nil {
		return nil, err
	}
	return people, nil
}

func decodeYAML(data []byte) ([]Person, error) {
	var node yaml.Node
	if err := yaml.Unmarshal(data, &node); err != nil {
		return nil, err
	}
	if len(node.Content) == 0 {
		return nil, nil
	}
	root := node.Content[0]
	if root.Kind == yaml.MappingNode {
		var doc directoryDoc
		if err := root.Decode(&doc); err != nil {
			return nil, err
		}
		return doc.People, nil
	}
	var people []Person
	if err := root.Decode(&people); err != nil {
		return nil, err
	}
	return people, nil
}
