package catalog

import (
	"fmt"
	"io"
	"os"

	"github.com/blukai/aochat/internal/charset"
	"gopkg.in/yaml.v3"
)

// Static is an in-memory catalog, category -> instance -> template.
type Static map[uint32]map[uint32]string

func (s Static) MessageString(category, instance uint32) (string, bool) {
	str, ok := s[category][instance]
	return str, ok
}

func (s Static) Set(category, instance uint32, template string) {
	if s[category] == nil {
		s[category] = make(map[uint32]string)
	}
	s[category][instance] = template
}

// LoadYAML reads a catalog written as
//
//	20000:
//	  172363154: "%s has joined the organization."
//
// Templates are UTF-8 in the file and converted to the server charset so
// they mix with server text the same way database templates do.
func LoadYAML(r io.Reader) (Static, error) {
	raw := map[uint32]map[uint32]string{}
	if err := yaml.NewDecoder(r).Decode(&raw); err != nil && err != io.EOF {
		return nil, fmt.Errorf("could not decode catalog: %w", err)
	}

	s := Static{}
	for cat, instances := range raw {
		for ins, tmpl := range instances {
			s.Set(cat, ins, charset.Encode(tmpl))
		}
	}
	return s, nil
}

// LoadYAMLFile is LoadYAML on the file at path.
func LoadYAMLFile(path string) (Static, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("could not open catalog %s: %w", path, err)
	}
	defer f.Close()

	s, err := LoadYAML(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return s, nil
}

// Chain asks each source in turn. Nil sources are skipped.
type Chain []Source

func (c Chain) MessageString(category, instance uint32) (string, bool) {
	for _, src := range c {
		if src == nil {
			continue
		}
		if s, ok := src.MessageString(category, instance); ok {
			return s, true
		}
	}
	return "", false
}
