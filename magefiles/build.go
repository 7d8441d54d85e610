//go:build mage

package main

import (
	"github.com/magefile/mage/mg"
)

type Build mg.Namespace

// Tidies the module and builds the vkcheck binary into bin/.
func (Build) All() error {
	if err := goTidy(); err != nil {
		return err
	}
	return executeCmd("go", "build", "-o", "bin/vkcheck", ".")
}

// Runs every package's tests with the race detector.
func (Build) Test() error {
	return runTool("go", "test", "-race", "-count=1", "./...")
}
