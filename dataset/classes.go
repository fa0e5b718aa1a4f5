package dataset

import "fmt"

// Class represents one classifier output.
type Class struct {
	// The integer index returned by the model.
	Index int `json:"index" yaml:"index"`
	// The human-readable label.
	Name string `json:"name" yaml:"name"`
}

// Classes maps class indices to names and back.
type Classes struct {
	// Classes ordered by index.
	Classes []Class
	// nameToIdx for fast lookup by name
	nameToIdx map[string]int
}

// DefaultClassNames is the two-class dictionary used when none is configured.
var DefaultClassNames = []string{"background", "foreground"}

// NewClasses builds a dictionary assigning indices in order.
//
// Arguments:
//   - names: The class names, index 0 first.
//
// Returns:
//   - *Classes: The dictionary.
//   - error: An error if a name is empty or repeated.
func NewClasses(names ...string) (*Classes, error) {
	c := &Classes{Classes: make([]Class, 0, len(names))}
	for i, name := range names {
		if name == "" {
			return nil, fmt.Errorf("class %d has an empty name", i)
		}
		c.Classes = append(c.Classes, Class{Index: i, Name: name})
	}
	c.BuildNameIndexMap()
	if len(c.nameToIdx) != len(c.Classes) {
		return nil, fmt.Errorf("class names %v are not unique", names)
	}
	return c, nil
}

// BuildNameIndexMap builds or rebuilds the name->index map.
func (c *Classes) BuildNameIndexMap() {
	c.nameToIdx = make(map[string]int, len(c.Classes))
	for _, cl := range c.Classes {
		c.nameToIdx[cl.Name] = cl.Index
	}
}

// Len returns the number of classes.
func (c *Classes) Len() int {
	return len(c.Classes)
}

// GetName returns the class name for an index.
func (c *Classes) GetName(idx int) (string, error) {
	if idx < 0 || idx >= len(c.Classes) {
		return "", fmt.Errorf("index %d out of range for %d classes", idx, len(c.Classes))
	}
	return c.Classes[idx].Name, nil
}

// GetIndex returns the class index for a name.
func (c *Classes) GetIndex(name string) (int, error) {
	idx, ok := c.nameToIdx[name]
	if !ok {
		return -1, fmt.Errorf("name %q not found", name)
	}
	return idx, nil
}

// NameOrIndex returns the class name, or the decimal index when it is unknown.
func (c *Classes) NameOrIndex(idx int) string {
	if name, err := c.GetName(idx); err == nil {
		return name
	}
	return fmt.Sprintf("%d", idx)
}

// Dictionaries returns the name->index and index->name maps.
func (c *Classes) Dictionaries() (map[string]int, map[int]string) {
	byName := make(map[string]int, len(c.Classes))
	byIndex := make(map[int]string, len(c.Classes))
	for _, cl := range c.Classes {
		byName[cl.Name] = cl.Index
		byIndex[cl.Index] = cl.Name
	}
	return byName, byIndex
}
