//go:build mage

package main

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"

	"github.com/magefile/mage/mg"
)

// executeCmd runs a command, echoing its output when mage runs verbose and only on
// failure otherwise.
func executeCmd(command string, args ...string) error {
	fmt.Printf("Executing: %s %s\n", command, strings.Join(args, " "))
	cmd := exec.Command(command, args...)

	var b bytes.Buffer
	if mg.Verbose() {
		cmd.Stdout = io.MultiWriter(&b, os.Stdout)
		cmd.Stderr = io.MultiWriter(&b, os.Stderr)
	} else {
		cmd.Stdout = &b
		cmd.Stderr = &b
	}
	if err := cmd.Run(); err != nil {
		if !mg.Verbose() {
			fmt.Println("... failed command output:")
			fmt.Println(b.String())
		}
		return fmt.Errorf("error executing %s: %w", command, err)
	}
	return nil
}

// runTool streams the output of a command the user asked to see.
func runTool(command string, args ...string) error {
	cmd := exec.Command(command, args...)
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("%s failed: %w", command, err)
	}
	return nil
}

func goTidy() error {
	if err := executeCmd("go", "mod", "tidy"); err != nil {
		return fmt.Errorf("failed to run go mod tidy: %w", err)
	}
	if err := executeCmd("go", "vet", "./..."); err != nil {
		return fmt.Errorf("failed to run go vet: %w", err)
	}
	return nil
}
