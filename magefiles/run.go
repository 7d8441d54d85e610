//go:build mage

package main

import (
	"fmt"
	"path/filepath"

	"github.com/magefile/mage/mg"
)

type Run mg.Namespace

// Builds vkcheck, runs the testbed scenarios and checks the shaders under shaders/.
func (Run) Check() error {
	mg.Deps(Build.All)

	fmt.Println("Run testbed...")
	if err := runTool("bin/vkcheck", "-testbed"); err != nil {
		return err
	}

	files, err := filepath.Glob("shaders/*.wgsl")
	if err != nil {
		return err
	}
	spv, err := filepath.Glob("shaders/*.spv")
	if err != nil {
		return err
	}
	files = append(files, spv...)
	if len(files) == 0 {
		fmt.Println("no shaders to check")
		return nil
	}

	fmt.Println("Check shaders...")
	args := append([]string{"-link", "-slots"}, files...)
	return runTool("bin/vkcheck", args...)
}
