package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	json "github.com/goccy/go-json"
	"github.com/urfave/cli/v3"

	"github.com/samcharles93/dropwise/internal/inference"
	"github.com/samcharles93/dropwise/internal/safetensors"
)

func inspectCmd() *cli.Command {
	var (
		showTensors  bool
		tensorLimit  int
		tensorFilter string
		asJSON       bool
	)

	return &cli.Command{
		Name:  "inspect",
		Usage: "Inspect a model directory: config, labels, tokenizer and tensors",
		Flags: append(commonModelFlags(),
			&cli.BoolFlag{Name: "tensors", Usage: "list tensor index", Destination: &showTensors},
			&cli.IntFlag{Name: "tensors-limit", Usage: "limit tensor listing (0 = no limit)", Value: 50, Destination: &tensorLimit},
			&cli.StringFlag{Name: "tensor-filter", Usage: "substring filter for tensor listing", Destination: &tensorFilter},
			&cli.BoolFlag{Name: "json", Usage: "print model info as JSON", Destination: &asJSON},
		),
		Action: func(ctx context.Context, cmd *cli.Command) error {
			applyModelConfig(cmd, fileConfig)

			path, err := resolveModelPath(modelPath, modelsPath, os.Stdin, os.Stderr)
			if err != nil {
				return cli.Exit(fmt.Sprintf("error: %v", err), 1)
			}
			res, err := modelLoader().Load(path)
			if err != nil {
				return cli.Exit(fmt.Sprintf("error: load model: %v", err), 1)
			}
			defer func() { _ = res.Engine.Close() }()

			info := res.Engine.Info()
			if asJSON {
				enc := json.NewEncoder(os.Stdout)
				enc.SetIndent("", "  ")
				return enc.Encode(info)
			}

			weights := filepath.Join(info.Path, "model.safetensors")
			st, err := safetensors.Open(weights)
			if err != nil {
				return cli.Exit(fmt.Sprintf("error: open weights: %v", err), 1)
			}
			defer func() { _ = st.Close() }()

			fmt.Printf("Model: %s\n", info.Path)
			if fi, err := os.Stat(weights); err == nil {
				fmt.Printf("Weights: %s (%s)\n", filepath.Base(weights), formatBytes(uint64(fi.Size())))
			}
			printParameters(os.Stdout, res)
			printLabels(os.Stdout, info)
			printTokenizer(os.Stdout, res)
			printTensorSummary(os.Stdout, st)
			if showTensors {
				printTensorIndex(os.Stdout, st, tensorFilter, tensorLimit)
			}
			return nil
		},
	}
}

func printParameters(w io.Writer, res *inference.LoadResult) {
	cfg := res.Config
	section(w, "Parameters")
	row(w, "model_type", cfg.ModelType)
	rowInt(w, "n_layers", cfg.NLayers)
	rowInt(w, "dim", cfg.Dim)
	rowInt(w, "n_heads", cfg.NHeads)
	rowInt(w, "hidden_dim", cfg.HiddenDim)
	rowInt(w, "vocab_size", cfg.VocabSize)
	rowInt(w, "max_position_embeddings", cfg.MaxPositions)
	row(w, "activation", cfg.Activation)
	rowFloat(w, "dropout", float64(cfg.Dropout))
	rowFloat(w, "attention_dropout", float64(cfg.AttentionDropout))
	rowFloat(w, "seq_classif_dropout", float64(cfg.SeqClassifDropout))
	row(w, "problem_type", cfg.ProblemType)
	row(w, "task_type", string(res.Engine.TaskType()))
}

func printLabels(w io.Writer, info inference.Info) {
	section(w, "Labels")
	if len(info.Labels) == 0 {
		row(w, "labels", "none (regression)")
		return
	}
	for i, l := range info.Labels {
		row(w, strconv.Itoa(i), l)
	}
}

func printTokenizer(w io.Writer, res *inference.LoadResult) {
	tc := res.TokenizerConfig
	section(w, "Tokenizer")
	row(w, "source", res.Engine.Info().Tokenizer)
	row(w, "model", tc.Model)
	rowInt(w, "vocab_size", tc.VocabSize)
	rowInt(w, "max_length", tc.MaxLength)
	row(w, "do_lower_case", strconv.FormatBool(tc.DoLowerCase))
	row(w, "strip_accents", strconv.FormatBool(tc.StripAccents))
	row(w, "cls_token", formatTokenInfo(res.Tokenizer.TokenString(tc.CLSTokenID), tc.CLSTokenID))
	row(w, "sep_token", formatTokenInfo(res.Tokenizer.TokenString(tc.SEPTokenID), tc.SEPTokenID))
	row(w, "pad_token", formatTokenInfo(res.Tokenizer.TokenString(tc.PADTokenID), tc.PADTokenID))
	row(w, "unk_token", formatTokenInfo(res.Tokenizer.TokenString(tc.UNKTokenID), tc.UNKTokenID))
}

func printTensorSummary(w io.Writer, st *safetensors.File) {
	section(w, "Tensors")
	rowInt(w, "count", len(st.Tensors))
	var total uint64
	dtypes := map[string]int{}
	for _, t := range st.Tensors {
		total += uint64(t.End - t.Start)
		dtypes[t.DType]++
	}
	row(w, "data", formatBytes(total))
	names := make([]string, 0, len(dtypes))
	for dt := range dtypes {
		names = append(names, dt)
	}
	sort.Strings(names)
	for _, dt := range names {
		rowInt(w, "dtype "+dt, dtypes[dt])
	}
	keys := make([]string, 0, len(st.Metadata))
	for k := range st.Metadata {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		row(w, "meta "+k, st.Metadata[k])
	}
}

func printTensorIndex(w io.Writer, st *safetensors.File, filter string, limit int) {
	section(w, "Tensor Index")
	shown := 0
	for _, name := range st.Names() {
		if filter != "" && !strings.Contains(name, filter) {
			continue
		}
		if limit > 0 && shown >= limit {
			_, _ = fmt.Fprintf(w, "... (limit %d reached; use --tensors-limit=0)\n", limit)
			return
		}
		t, _ := st.Tensor(name)
		_, _ = fmt.Fprintf(w, "%-56s %-5s %-14s %s\n", name, t.DType, formatShape(t.Shape), formatBytes(uint64(t.End-t.Start)))
		shown++
	}
}

func section(w io.Writer, title string) {
	line := strings.Repeat("-", len(title)+8)
	_, _ = fmt.Fprintf(w, "\n%s\n--- %s ---\n%s\n", line, title, line)
}

func row(w io.Writer, label, value string) {
	if value == "" {
		return
	}
	_, _ = fmt.Fprintf(w, "%-24s %s\n", label+":", value)
}

func rowInt(w io.Writer, label string, v int) {
	row(w, label, strconv.Itoa(v))
}

func rowFloat(w io.Writer, label string, v float64) {
	row(w, label, strconv.FormatFloat(v, 'g', -1, 64))
}

func formatShape(shape []int) string {
	parts := make([]string, len(shape))
	for i, d := range shape {
		parts[i] = strconv.Itoa(d)
	}
	return "[" + strings.Join(parts, ", ") + "]"
}

func formatTokenInfo(tok string, id int) string {
	if id < 0 {
		return ""
	}
	if tok == "" {
		return fmt.Sprintf("id=%d", id)
	}
	return fmt.Sprintf("%s (id=%d)", tok, id)
}

func formatBytes(b uint64) string {
	const (
		kb = 1024
		mb = 1024 * kb
		gb = 1024 * mb
	)
	switch {
	case b >= gb:
		return fmt.Sprintf("%.2f GiB", float64(b)/float64(gb))
	case b >= mb:
		return fmt.Sprintf("%.2f MiB", float64(b)/float64(mb))
	case b >= kb:
		return fmt.Sprintf("%.2f KiB", float64(b)/float64(kb))
	default:
		return fmt.Sprintf("%d B", b)
	}
}
