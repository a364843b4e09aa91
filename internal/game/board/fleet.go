package board

import (
	"fmt"
	"os"
	"sort"

	"gopkg.in/yaml.v3"
)

// Fleet maps ship length to the number of ships of that length a valid
// board must contain.
type Fleet map[int]int

// DefaultFleet returns four single-cell ships, three of length two, two of
// length three and one of length four.
func DefaultFleet() Fleet {
	return Fleet{1: 4, 2: 3, 3: 2, 4: 1}
}

// Cells returns the total number of ship cells in the fleet.
func (f Fleet) Cells() int {
	total := 0
	for length, count := range f {
		total += length * count
	}
	return total
}

// Validate checks that every length fits on the board and every count is
// non-negative, and that the fleet is not empty.
func (f Fleet) Validate() error {
	if f.Cells() == 0 {
		return fmt.Errorf("fleet must contain at least one ship")
	}
	for length, count := range f {
		if length < 1 || length > Size {
			return fmt.Errorf("ship length %d must be between 1 and %d", length, Size)
		}
		if count < 0 {
			return fmt.Errorf("ship count for length %d must not be negative, got %d", length, count)
		}
	}
	return nil
}

func (f Fleet) clone() Fleet {
	c := make(Fleet, len(f))
	for k, v := range f {
		c[k] = v
	}
	return c
}

// String renders the fleet in ascending length order, e.g. "1x4 2x3".
func (f Fleet) String() string {
	lengths := make([]int, 0, len(f))
	for l := range f {
		lengths = append(lengths, l)
	}
	sort.Ints(lengths)
	s := ""
	for i, l := range lengths {
		if i > 0 {
			s += " "
		}
		s += fmt.Sprintf("%dx%d", l, f[l])
	}
	return s
}

// fleetFile is the YAML layout of a fleet definition.
type fleetFile struct {
	Ships []struct {
		Length int `yaml:"length"`
		Count  int `yaml:"count"`
	} `yaml:"ships"`
}

// LoadFleet reads a fleet definition from a YAML file of the form
//
//	ships:
//	  - length: 4
//	    count: 1
//
// Precondition: path must name a readable YAML file.
// Postcondition: Returns a validated Fleet or a non-nil error.
func LoadFleet(path string) (Fleet, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading fleet file %s: %w", path, err)
	}
	return ParseFleet(data)
}

// ParseFleet decodes a YAML fleet definition.
//
// Postcondition: Returns a validated Fleet or a non-nil error.
func ParseFleet(data []byte) (Fleet, error) {
	var ff fleetFile
	if err := yaml.Unmarshal(data, &ff); err != nil {
		return nil, fmt.Errorf("parsing fleet: %w", err)
	}
	fleet := make(Fleet, len(ff.Ships))
	for _, s := range ff.Ships {
		if _, dup := fleet[s.Length]; dup {
			return nil, fmt.Errorf("fleet lists ship length %d twice", s.Length)
		}
		fleet[s.Length] = s.Count
	}
	if err := fleet.Validate(); err != nil {
		return nil, err
	}
	return fleet, nil
}
