package IO

import (
	"bufio"
	"encoding/gob"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"gonum.org/v1/gonum/mat"

	"github.com/Jourdelune/transformer/transformer"
)

// Checkpoints are gob streams of flattened named tensors. The forward core
// only exposes names and matrices; the layout here is this package's concern.

const checkpointVersion = 1

type tensorData struct {
	R, C int
	Data []float64
}

type checkpointData struct {
	Version int
	Names   []string // save order, for stable listings
	Tensors map[string]tensorData
}

// SaveParams writes ps to w.
func SaveParams(w io.Writer, ps []transformer.Param) error {
	data := checkpointData{
		Version: checkpointVersion,
		Names:   make([]string, 0, len(ps)),
		Tensors: make(map[string]tensorData, len(ps)),
	}
	for _, p := range ps {
		if _, dup := data.Tensors[p.Name]; dup {
			return fmt.Errorf("SaveParams: duplicate tensor %q", p.Name)
		}
		r, c := p.Value.Dims()
		raw := mat.DenseCopyOf(p.Value).RawMatrix()
		data.Names = append(data.Names, p.Name)
		data.Tensors[p.Name] = tensorData{R: r, C: c, Data: append([]float64(nil), raw.Data...)}
	}
	return gob.NewEncoder(w).Encode(data)
}

// LoadParams reads a stream written by SaveParams.
func LoadParams(r io.Reader) (map[string]*mat.Dense, error) {
	var data checkpointData
	if err := gob.NewDecoder(r).Decode(&data); err != nil {
		return nil, fmt.Errorf("LoadParams: %w", err)
	}
	if data.Version != checkpointVersion {
		return nil, fmt.Errorf("LoadParams: checkpoint version %d, want %d", data.Version, checkpointVersion)
	}
	out := make(map[string]*mat.Dense, len(data.Tensors))
	for name, td := range data.Tensors {
		if td.R <= 0 || td.C <= 0 || len(td.Data) != td.R*td.C {
			return nil, fmt.Errorf("LoadParams: %q declares (%d x %d) with %d values", name, td.R, td.C, len(td.Data))
		}
		out[name] = mat.NewDense(td.R, td.C, td.Data)
	}
	return out, nil
}

// SaveTransformer persists every weight of m to filename, creating parent directories.
func SaveTransformer(m *transformer.Transformer, filename string) error {
	if dir := filepath.Dir(filename); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	f, err := os.Create(filename)
	if err != nil {
		return err
	}
	w := bufio.NewWriter(f)
	if err := SaveParams(w, m.Params()); err != nil {
		f.Close()
		return err
	}
	if err := w.Flush(); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

// LoadTransformer loads a file written by SaveTransformer into m.
func LoadTransformer(m *transformer.Transformer, filename string) error {
	f, err := os.Open(filename)
	if err != nil {
		return err
	}
	defer f.Close()
	values, err := LoadParams(bufio.NewReader(f))
	if err != nil {
		return err
	}
	return m.LoadParams(values)
}
