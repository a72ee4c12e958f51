package camera

import (
	"encoding/json"
	"io"
	"os"

	"github.com/pkg/errors"
	"go.viam.com/utils"
)

// modelJSON is the wire form shared by all model families.
type modelJSON struct {
	Family Family    `json:"model"`
	Params []float64 `json:"params"`
	Width  int       `json:"width_px"`
	Height int       `json:"height_px"`
}

// ToJSON serializes a model, its family tag, and its image size.
func ToJSON(m Model) ([]byte, error) {
	if err := m.CheckValid(); err != nil {
		return nil, err
	}
	wire := modelJSON{
		Family: m.Family(),
		Params: m.Params(),
		Width:  m.Width(),
		Height: m.Height(),
	}
	return json.MarshalIndent(wire, "", " ")
}

// FromJSON rebuilds a model of the tagged family from its wire form.
func FromJSON(data []byte) (Model, error) {
	var wire modelJSON
	if err := json.Unmarshal(data, &wire); err != nil {
		return nil, errors.Wrap(err, "error parsing camera model JSON")
	}
	m, err := NewModel(wire.Family, wire.Params, wire.Width, wire.Height)
	if err != nil {
		return nil, err
	}
	if err := m.CheckValid(); err != nil {
		return nil, err
	}
	return m, nil
}

// NewModelFromJSONFile takes in a file path to a JSON and turns it into a camera model.
func NewModelFromJSONFile(jsonPath string) (Model, error) {
	//nolint:gosec
	jsonFile, err := os.Open(jsonPath)
	if err != nil {
		return nil, errors.Wrap(err, "error opening JSON file")
	}
	defer utils.UncheckedErrorFunc(jsonFile.Close)
	byteValue, err := io.ReadAll(jsonFile)
	if err != nil {
		return nil, errors.Wrap(err, "error reading JSON data")
	}
	return FromJSON(byteValue)
}

// WriteModelToJSONFile saves a model to a JSON file readable by
// NewModelFromJSONFile.
func WriteModelToJSONFile(jsonPath string, m Model) error {
	data, err := ToJSON(m)
	if err != nil {
		return err
	}
	return os.WriteFile(jsonPath, data, 0o644)
}
