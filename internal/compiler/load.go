package compiler

import (
	"fmt"
	"os"
	"path/filepath"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	"cuelang.org/go/cue/load"

	"github.com/roach88/semantika/internal/semantic"
)

// Result is a compiled ontology.
type Result struct {
	Spec     *Spec
	Ontology semantic.RawOntology
	Files    int
}

// LoadDir compiles every .cue file in dir as one CUE package.
func LoadDir(dir string) (*Result, error) {
	info, err := os.Stat(dir)
	if err != nil {
		return nil, fmt.Errorf("ontology directory: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("ontology directory: not a directory: %s", dir)
	}

	files, err := FindCUEFiles(dir)
	if err != nil {
		return nil, fmt.Errorf("scan %s: %w", dir, err)
	}
	if len(files) == 0 {
		return nil, fmt.Errorf("no CUE files found in %s", dir)
	}

	instances := load.Instances([]string{"."}, &load.Config{Dir: dir})
	if len(instances) == 0 {
		return nil, fmt.Errorf("no CUE instances loaded from %s", dir)
	}
	if err := instances[0].Err; err != nil {
		return nil, fmt.Errorf("load CUE files: %w", formatCUEError(err))
	}
	value := cuecontext.New().BuildInstance(instances[0])

	res, err := compileValue(value)
	if err != nil {
		return nil, err
	}
	res.Files = len(files)
	return res, nil
}

// CompileString compiles a single CUE source. filename only labels
// positions in errors.
func CompileString(src, filename string) (*Result, error) {
	value := cuecontext.New().CompileString(src, cue.Filename(filename))
	return compileValue(value)
}

func compileValue(v cue.Value) (*Result, error) {
	spec, err := Compile(v)
	if err != nil {
		return nil, err
	}
	raw, err := Build(spec)
	if err != nil {
		return nil, err
	}
	return &Result{Spec: spec, Ontology: raw}, nil
}

// FindCUEFiles walks dir and returns all .cue file paths.
func FindCUEFiles(dir string) ([]string, error) {
	var files []string
	err := filepath.WalkDir(dir, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() && filepath.Ext(path) == ".cue" {
			files = append(files, path)
		}
		return nil
	})
	return files, err
}
