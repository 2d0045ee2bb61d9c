package main

import (
	"path/filepath"
	"testing"

	"github.com/HatiCode/oceanquake/pkg/loader"
)

func TestGenerate_RoundTripsThroughLoader(t *testing.T) {
	out := filepath.Join(t.TempDir(), "data")
	o, err := parseFlags([]string{"-out=" + out, "-n=12", "-t=3", "-h=4", "-w=5", "-c=2", "-positive=0.25", "-seed=7"})
	if err != nil {
		t.Fatalf("parseFlags() error = %v", err)
	}

	features, labels, err := generate(o)
	if err != nil {
		t.Fatalf("generate() error = %v", err)
	}

	x, y, err := loader.Load(features, labels, loader.Options{})
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if x.Shape() != o.shape {
		t.Errorf("loaded shape = %s, want %s", x.Shape(), o.shape)
	}
	positives := 0
	for _, v := range y {
		positives += int(v)
	}
	if positives != 3 {
		t.Errorf("positives = %d, want 3", positives)
	}
}

func TestGenerate_AllNegative(t *testing.T) {
	o, err := parseFlags([]string{"-out=" + t.TempDir(), "-n=6", "-t=1", "-h=3", "-w=3", "-c=1", "-positive=0"})
	if err != nil {
		t.Fatal(err)
	}
	features, labels, err := generate(o)
	if err != nil {
		t.Fatalf("generate() error = %v", err)
	}
	_, y, err := loader.Load(features, labels, loader.Options{})
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	for i, v := range y {
		if v != 0 {
			t.Errorf("label %d = %v, want 0", i, v)
		}
	}
}

func TestParseFlags_Defaults(t *testing.T) {
	o, err := parseFlags(nil)
	if err != nil {
		t.Fatal(err)
	}
	if o.shape.N != 100 || o.shape.T != 5 || o.shape.H != 10 || o.shape.W != 10 || o.shape.C != 3 {
		t.Errorf("default shape = %s, want (100, 5, 10, 10, 3)", o.shape)
	}
	if o.synth.Shape != o.shape || o.synth.Seed != 42 || o.synth.PositiveFraction == nil || *o.synth.PositiveFraction != 0.5 {
		t.Errorf("synth options = %+v", o.synth)
	}
}

func TestGenerate_InvalidShape(t *testing.T) {
	o, err := parseFlags([]string{"-out=" + t.TempDir(), "-c=0"})
	if err != nil {
		t.Fatal(err)
	}
	if _, _, err := generate(o); err == nil {
		t.Error("expected error for zero channels")
	}
}
