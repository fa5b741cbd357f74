package job

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"maps"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

var (
	ErrNoJob           = errors.New("no job descriptor")
	ErrEmptyType       = errors.New("operation type is empty")
	ErrReservedKey     = errors.New(`parameter key "type" is reserved`)
	ErrNotSerializable = errors.New("parameters are not serializable")
)

// Descriptor is one operation request sent to the orchestration service.
//
// On the wire, a Descriptor is a flat JSON object: Type is put as "type",
// and each Parameters entry is put next to it.
type Descriptor struct {
	Type       string
	Parameters map[string]any
}

func (d Descriptor) MarshalJSON() ([]byte, error) {
	flat := make(map[string]any, len(d.Parameters)+1)
	for k, v := range d.Parameters {
		flat[k] = v
	}
	flat["type"] = d.Type
	return json.Marshal(flat)
}

func (d *Descriptor) UnmarshalJSON(b []byte) error {
	flat := map[string]any{}
	if err := json.Unmarshal(b, &flat); err != nil {
		return err
	}
	return d.fromFlat(flat)
}

func (d *Descriptor) UnmarshalYAML(node *yaml.Node) error {
	flat := map[string]any{}
	if err := node.Decode(&flat); err != nil {
		return err
	}
	return d.fromFlat(flat)
}

func (d *Descriptor) fromFlat(flat map[string]any) error {
	t, ok := flat["type"].(string)
	if !ok {
		return fmt.Errorf("%w: job descriptor has no string \"type\"", ErrEmptyType)
	}
	delete(flat, "type")
	d.Type = t
	d.Parameters = flat
	return nil
}

func (d Descriptor) String() string {
	return fmt.Sprintf("%s%v", d.Type, d.Parameters)
}

func validate(operationType string, params map[string]any) error {
	if strings.TrimSpace(operationType) == "" {
		return ErrEmptyType
	}
	if _, ok := params["type"]; ok {
		return ErrReservedKey
	}
	if _, err := json.Marshal(params); err != nil {
		return fmt.Errorf("%w: %w", ErrNotSerializable, err)
	}
	return nil
}

// Build creates a job consisting of a single descriptor.
//
// # Args
//
// - operationType: name of operation, like "resizeServerGroup". It should not be blank.
//
// - params: parameters of the operation. It should be JSON serializable,
// and should not have "type" as its key.
//
// # Returns
//
// - []Descriptor: a job, which has just one descriptor.
//
// - error: ErrEmptyType, ErrReservedKey or ErrNotSerializable.
func Build(operationType string, params map[string]any) ([]Descriptor, error) {
	if err := validate(operationType, params); err != nil {
		return nil, err
	}
	return []Descriptor{{Type: operationType, Parameters: maps.Clone(params)}}, nil
}

// Builder composes descriptors into one job.
//
// Ordering of descriptors is kept as they are added,
// because the orchestration service runs them in that order.
type Builder struct {
	descriptors []Descriptor
	err         error
}

func New() *Builder {
	return &Builder{}
}

// Add appends a descriptor. Validation errors are reported by Build.
func (b *Builder) Add(operationType string, params map[string]any) *Builder {
	return b.Append(Descriptor{Type: operationType, Parameters: params})
}

func (b *Builder) Append(descriptors ...Descriptor) *Builder {
	for _, d := range descriptors {
		if b.err == nil {
			if err := validate(d.Type, d.Parameters); err != nil {
				b.err = fmt.Errorf("job[%d] (%s): %w", len(b.descriptors), d.Type, err)
			}
		}
		b.descriptors = append(
			b.descriptors,
			Descriptor{Type: d.Type, Parameters: maps.Clone(d.Parameters)},
		)
	}
	return b
}

func (b *Builder) Build() ([]Descriptor, error) {
	if b.err != nil {
		return nil, b.err
	}
	if len(b.descriptors) == 0 {
		return nil, ErrNoJob
	}
	ret := make([]Descriptor, len(b.descriptors))
	copy(ret, b.descriptors)
	return ret, nil
}

// Load reads a job from YAML (or JSON) document.
//
// The document is a list of descriptors, or a mapping having such list as "job".
func Load(r io.Reader) ([]Descriptor, error) {
	buf, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}

	var list []Descriptor
	if err := yaml.Unmarshal(buf, &list); err != nil {
		wrapped := struct {
			Job []Descriptor `yaml:"job"`
		}{}
		if err2 := yaml.Unmarshal(buf, &wrapped); err2 != nil {
			return nil, err
		}
		list = wrapped.Job
	}

	return New().Append(list...).Build()
}

func LoadFile(path string) ([]Descriptor, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	d, err := Load(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return d, nil
}
