package main

import (
	"flag"
	"fmt"
	"os"
	"strings"

	"github.com/Jourdelune/transformer/IO"
	"github.com/Jourdelune/transformer/params"
	"github.com/Jourdelune/transformer/transformer"
	"github.com/Jourdelune/transformer/utils"
)

var (
	srcFlag, tgtFlag string
	idsFlag          bool
	tokenizerPath    string
	checkpointPath   string
	savePath         string
	debugFlag        bool

	vocabFlag, dModelFlag, maxLenFlag int
	layersFlag, headsFlag, dffnFlag   int
	padFlag                           int
)

func init() {
	flag.StringVar(&srcFlag, "src", "", "source sentences, ';'-separated (or id lists with -ids)")
	flag.StringVar(&tgtFlag, "tgt", "", "target sentences, ';'-separated (or id lists with -ids)")
	flag.BoolVar(&idsFlag, "ids", false, "treat -src/-tgt as comma-separated token ids")
	flag.StringVar(&tokenizerPath, "tokenizer", "", "tokenizer.json used to encode -src/-tgt")
	flag.StringVar(&checkpointPath, "checkpoint", "", "load weights from this gob checkpoint")
	flag.StringVar(&savePath, "save", "", "write the model's weights to this path")
	flag.BoolVar(&debugFlag, "debug", false, "enable debug logs")

	flag.IntVar(&vocabFlag, "vocab", params.Default.VocabSize, "vocabulary size (ignored with -tokenizer)")
	flag.IntVar(&dModelFlag, "dmodel", params.Default.DModel, "model width")
	flag.IntVar(&maxLenFlag, "maxlen", params.Default.MaxSeqLen, "max sequence length")
	flag.IntVar(&layersFlag, "layers", params.Default.NumLayers, "encoder/decoder depth")
	flag.IntVar(&headsFlag, "heads", params.Default.NumHeads, "attention heads")
	flag.IntVar(&dffnFlag, "dffn", params.Default.DFFN, "feed-forward width")
	flag.IntVar(&padFlag, "pad", -1, "pad token id (default: the tokenizer's pad token, else 1)")
}

func main() {
	flag.Parse()
	utils.Debug = debugFlag

	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := params.FromEnv(params.Default)
	if err != nil {
		return err
	}
	cfg.VocabSize, cfg.DModel, cfg.MaxSeqLen = vocabFlag, dModelFlag, maxLenFlag
	cfg.NumLayers, cfg.NumHeads, cfg.DFFN = layersFlag, headsFlag, dffnFlag
	if padFlag >= 0 {
		cfg.PadID = padFlag
	}

	var tok *IO.Tokenizer
	if tokenizerPath != "" && !idsFlag {
		tok, err = IO.LoadTokenizer(tokenizerPath, padFlag, cfg.MaxSeqLen)
		if err != nil {
			return err
		}
		cfg.VocabSize = tok.VocabSize()
		cfg.PadID = tok.PadID
		utils.Debugf("tokenizer: vocab=%d pad=%d", cfg.VocabSize, cfg.PadID)
	}

	model, err := transformer.New(cfg)
	if err != nil {
		return err
	}
	if checkpointPath != "" {
		if err := IO.LoadTransformer(model, checkpointPath); err != nil {
			return err
		}
		fmt.Println("Loaded weights from", checkpointPath)
	}
	if savePath != "" {
		if err := IO.SaveTransformer(model, savePath); err != nil {
			return err
		}
		fmt.Println("Saved weights to", savePath)
	}
	if srcFlag == "" || tgtFlag == "" {
		if savePath == "" {
			fmt.Println("Nothing to run. Pass -src and -tgt (with -ids or -tokenizer).")
		}
		return nil
	}

	src, err := batch(srcFlag, tok, cfg)
	if err != nil {
		return fmt.Errorf("src: %w", err)
	}
	tgt, err := batch(tgtFlag, tok, cfg)
	if err != nil {
		return fmt.Errorf("tgt: %w", err)
	}

	logits, err := model.Forward(src, tgt)
	if err != nil {
		return err
	}
	b, t, v := logits.Dims()
	fmt.Printf("logits: (%d, %d, %d) on %s\n", b, t, v, model.Backend().Name)
	for i := range logits {
		best := make([]int, t)
		for pos := 0; pos < t; pos++ {
			best[pos] = utils.ArgMaxCol(logits[i], pos)
		}
		fmt.Printf("  [%d] src=%v tgt=%v argmax=%v\n", i, src[i], tgt[i], best)
	}
	return nil
}

// batch turns a ';'-separated flag into at most params.BatchSize padded id rows.
func batch(arg string, tok *IO.Tokenizer, cfg params.Config) ([][]int, error) {
	parts := strings.Split(arg, ";")
	if len(parts) > params.BatchSize {
		fmt.Printf("Warning: using the first %d of %d inputs\n", params.BatchSize, len(parts))
		parts = parts[:params.BatchSize]
	}
	if tok != nil {
		return tok.EncodeBatch(parts)
	}
	if !idsFlag {
		return nil, fmt.Errorf("pass -ids or -tokenizer")
	}
	out := make([][]int, len(parts))
	for i, p := range parts {
		ids, err := IO.ParseIDs(p)
		if err != nil {
			return nil, err
		}
		out[i] = IO.PadTruncate(ids, cfg.MaxSeqLen, cfg.PadID)
	}
	return out, nil
}
