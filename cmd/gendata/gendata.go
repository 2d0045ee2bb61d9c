package main

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"

	"github.com/HatiCode/oceanquake/pkg/loader"
	"github.com/HatiCode/oceanquake/pkg/synth"
)

// generate writes the dataset described by o and returns the two file paths.
func generate(o *options) (features, labels string, err error) {
	x, y, err := synth.Generate(o.synth)
	if err != nil {
		return "", "", err
	}

	if err := os.MkdirAll(o.out, 0o755); err != nil {
		return "", "", fmt.Errorf("create output directory: %w", err)
	}

	features = filepath.Join(o.out, "features.json")
	labels = filepath.Join(o.out, "labels.json")

	if err := writeFile(features, func(w *bufio.Writer) error { return loader.WriteFeaturesJSON(w, x) }); err != nil {
		return "", "", err
	}
	if err := writeFile(labels, func(w *bufio.Writer) error { return loader.WriteLabelsJSON(w, y) }); err != nil {
		return "", "", err
	}
	return features, labels, nil
}

func writeFile(path string, write func(w *bufio.Writer) error) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create %s: %w", path, err)
	}
	w := bufio.NewWriter(f)
	if err := write(w); err != nil {
		f.Close()
		return fmt.Errorf("write %s: %w", path, err)
	}
	if err := w.Flush(); err != nil {
		f.Close()
		return fmt.Errorf("flush %s: %w", path, err)
	}
	return f.Close()
}
