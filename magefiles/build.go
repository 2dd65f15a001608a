//go:build mage

package main

import (
	"fmt"
	"path/filepath"

	"github.com/magefile/mage/mg"
)

type Build mg.Namespace

// Compiles every GLSL shader in shaders/ to SPIR-V next to its source.
func (Build) Shaders() error {
	return buildShaders()
}

// Builds the backend binary.
func (Build) Binary() error {
	if _, err := executeCmd("go", withArgs("build", "-o", "bin/aurora", "."), withStream()); err != nil {
		return err
	}
	return nil
}

// Runs the full test suite.
func (Build) Test() error {
	if _, err := executeCmd("go", withArgs("test", "./..."), withStream()); err != nil {
		return err
	}
	return nil
}

func buildShaders() error {
	sources, err := filepath.Glob("shaders/*.vert")
	if err != nil {
		return err
	}
	frag, err := filepath.Glob("shaders/*.frag")
	if err != nil {
		return err
	}
	sources = append(sources, frag...)

	if len(sources) == 0 {
		fmt.Println("No shader sources found under shaders/, skipping.")
		return nil
	}

	for _, src := range sources {
		// basic.vert compiles to basic.vert.spv, the name the shader
		// library loads.
		out := src + ".spv"
		if _, err := executeCmd("glslc", withArgs(src, "-o", out), withStream()); err != nil {
			return err
		}
	}
	return nil
}
