package params

import (
	"fmt"
	"os"
	"strconv"

	"github.com/Jourdelune/transformer/utils"
)

// Config is the hyperparameter record a Transformer is built from.
// It is passed by value and never mutated after construction.
type Config struct {
	// Core transformer parameters
	VocabSize int // |V|
	DModel    int // model width
	MaxSeqLen int // longest src/tgt sequence accepted
	NumLayers int // encoder and decoder depth
	NumHeads  int // dHead = DModel/NumHeads
	DFFN      int // feed-forward hidden width

	DropoutRate float64 // probability in [0,1); only used in training mode
	PadID       int     // reserved padding token id

	Device       string  // compute backend name, see package backend
	Workers      int     // goroutines for (batch, head) fan-out; <=1 runs serially
	Activation   string  // "relu" or "gelu"
	LayerNormEps float64 // added to the variance before the square root
	Seed         uint64  // weight init / dropout source
}

// BatchSize is the batch width the CLI groups inputs into.
var BatchSize = 4

var Default = Config{
	VocabSize: 10_000,
	DModel:    512,
	MaxSeqLen: 5,
	NumLayers: 6,
	NumHeads:  8,
	DFFN:      2048,

	DropoutRate: 0.1,
	PadID:       1,

	Device:       "cpu",
	Workers:      1,
	Activation:   "relu",
	LayerNormEps: 1e-5,
	Seed:         42,
}

// DHead returns the per-head width.
func (c Config) DHead() int {
	return c.DModel / c.NumHeads
}

// Validate checks the record eagerly so a bad table never produces a model.
func (c Config) Validate() error {
	if c.VocabSize <= 0 {
		return fmt.Errorf("vocab_size must be positive, got %d: %w", c.VocabSize, utils.ErrConfiguration)
	}
	if c.DModel <= 0 {
		return fmt.Errorf("dim_model must be positive, got %d: %w", c.DModel, utils.ErrConfiguration)
	}
	if c.MaxSeqLen <= 0 {
		return fmt.Errorf("max_seq_len must be positive, got %d: %w", c.MaxSeqLen, utils.ErrConfiguration)
	}
	if c.NumLayers <= 0 {
		return fmt.Errorf("num_layers must be positive, got %d: %w", c.NumLayers, utils.ErrConfiguration)
	}
	if c.NumHeads <= 0 {
		return fmt.Errorf("num_heads must be positive, got %d: %w", c.NumHeads, utils.ErrConfiguration)
	}
	if c.DModel%c.NumHeads != 0 {
		return fmt.Errorf("dim_model (%d) must be divisible by num_heads (%d): %w",
			c.DModel, c.NumHeads, utils.ErrConfiguration)
	}
	if c.DFFN <= 0 {
		return fmt.Errorf("d_ffn must be positive, got %d: %w", c.DFFN, utils.ErrConfiguration)
	}
	if c.DropoutRate < 0 || c.DropoutRate >= 1 {
		return fmt.Errorf("dropout_rate must be in [0,1), got %g: %w", c.DropoutRate, utils.ErrConfiguration)
	}
	if c.PadID < 0 || c.PadID >= c.VocabSize {
		return fmt.Errorf("pad_id %d outside vocabulary [0,%d): %w", c.PadID, c.VocabSize, utils.ErrConfiguration)
	}
	if c.LayerNormEps <= 0 {
		return fmt.Errorf("layer_norm_eps must be positive, got %g: %w", c.LayerNormEps, utils.ErrConfiguration)
	}
	switch c.Activation {
	case "relu", "gelu":
	default:
		return fmt.Errorf("unknown activation %q: %w", c.Activation, utils.ErrConfiguration)
	}
	return nil
}

// FromEnv returns base with DEVICE, WORKERS and SEED overridden from the environment.
//
//	WORKERS=4 DEVICE=netlib go run -tags netlib .
func FromEnv(base Config) (Config, error) {
	cfg := base
	if v := os.Getenv("DEVICE"); v != "" {
		cfg.Device = v
	}
	if v := os.Getenv("WORKERS"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return base, fmt.Errorf("WORKERS=%q: %w", v, utils.ErrConfiguration)
		}
		cfg.Workers = n
	}
	if v := os.Getenv("SEED"); v != "" {
		n, err := strconv.ParseUint(v, 10, 64)
		if err != nil {
			return base, fmt.Errorf("SEED=%q: %w", v, utils.ErrConfiguration)
		}
		cfg.Seed = n
	}
	return cfg, nil
}
