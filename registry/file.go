package registry

import (
	"io/ioutil"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v2"
)

// LoadFile reads additional descriptors from a YAML file and returns a
// registry containing the built-in providers plus the file's entries. File
// entries may not redeclare a built-in key.
func LoadFile(path string, opts ...Option) (*Registry, error) {
	b, err := ioutil.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "reading provider file %s", path)
	}
	var extra []Descriptor
	if err := yaml.UnmarshalStrict(b, &extra); err != nil {
		return nil, errors.Wrapf(err, "parsing provider file %s", path)
	}
	return New(append(append([]Descriptor{}, builtin...), extra...), opts...)
}
