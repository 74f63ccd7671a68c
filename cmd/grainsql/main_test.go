// Package main provides tests for the grainsql CLI.
package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/millstone-labs/grainsql/internal/cli"
)

func TestVersionCommand(t *testing.T) {
	cmd := cli.NewRootCmd()
	buf := new(bytes.Buffer)
	cmd.SetOut(buf)
	cmd.SetErr(buf)
	cmd.SetArgs([]string{"version"})

	err := cmd.Execute()
	if err != nil {
		t.Errorf("version command error = %v", err)
	}

	output := buf.String()
	if !strings.Contains(output, "grainsql") {
		t.Errorf("version output should contain 'grainsql', got: %s", output)
	}
}

func TestHelpCommand(t *testing.T) {
	cmd := cli.NewRootCmd()
	buf := new(bytes.Buffer)
	cmd.SetOut(buf)
	cmd.SetErr(buf)
	cmd.SetArgs([]string{"--help"})

	err := cmd.Execute()
	if err != nil {
		t.Errorf("help command error = %v", err)
	}

	output := buf.String()
	expectedCommands := []string{"templates", "strategies", "check", "version"}
	for _, expected := range expectedCommands {
		if !strings.Contains(output, expected) {
			t.Errorf("help output should contain '%s', got: %s", expected, output)
		}
	}
}

func TestTemplatesCommand(t *testing.T) {
	cmd := cli.NewRootCmd()
	buf := new(bytes.Buffer)
	cmd.SetOut(buf)
	cmd.SetErr(buf)
	cmd.SetArgs([]string{"templates"})

	err := cmd.Execute()
	if err != nil {
		t.Errorf("templates command error = %v", err)
	}

	output := buf.String()
	for _, expected := range []string{"rolling_count", "recency", "pct_true"} {
		if !strings.Contains(output, expected) {
			t.Errorf("templates output should contain %q, got: %s", expected, output)
		}
	}
}

func TestStrategiesCommand(t *testing.T) {
	cmd := cli.NewRootCmd()
	buf := new(bytes.Buffer)
	cmd.SetOut(buf)
	cmd.SetErr(buf)
	cmd.SetArgs([]string{"strategies"})

	err := cmd.Execute()
	if err != nil {
		t.Errorf("strategies command error = %v", err)
	}

	output := buf.String()
	for _, expected := range []string{"zero", "sentinel", "mean"} {
		if !strings.Contains(output, expected) {
			t.Errorf("strategies output should contain %q, got: %s", expected, output)
		}
	}
}

func TestCheckCommand(t *testing.T) {
	dir := t.TempDir()
	clean := filepath.Join(dir, "clean.sql")
	if err := os.WriteFile(clean, []byte("SELECT entity_id, observation_date FROM grain"), 0o644); err != nil {
		t.Fatal(err)
	}
	dirty := filepath.Join(dir, "dirty.sql")
	if err := os.WriteFile(dirty, []byte("DROP TABLE customers"), 0o644); err != nil {
		t.Fatal(err)
	}

	t.Run("clean file", func(t *testing.T) {
		cmd := cli.NewRootCmd()
		buf := new(bytes.Buffer)
		cmd.SetOut(buf)
		cmd.SetErr(buf)
		cmd.SetArgs([]string{"check", clean})

		if err := cmd.Execute(); err != nil {
			t.Errorf("check command error = %v", err)
		}
		if !strings.Contains(buf.String(), "no issues found") {
			t.Errorf("check output should report no issues, got: %s", buf.String())
		}
	})

	t.Run("forbidden keyword fails", func(t *testing.T) {
		cmd := cli.NewRootCmd()
		buf := new(bytes.Buffer)
		cmd.SetOut(buf)
		cmd.SetErr(buf)
		cmd.SetArgs([]string{"check", dirty})

		if err := cmd.Execute(); err == nil {
			t.Error("check should fail on forbidden keywords")
		}
		if !strings.Contains(buf.String(), "FORBIDDEN_KEYWORD") {
			t.Errorf("check output should contain FORBIDDEN_KEYWORD, got: %s", buf.String())
		}
	})
}

func TestCompletionCommand(t *testing.T) {
	shells := []string{"bash", "zsh", "fish", "powershell"}

	for _, shell := range shells {
		t.Run(shell, func(t *testing.T) {
			cmd := cli.NewRootCmd()
			buf := new(bytes.Buffer)
			cmd.SetOut(buf)
			cmd.SetErr(buf)
			cmd.SetArgs([]string{"completion", shell})

			err := cmd.Execute()
			if err != nil {
				t.Errorf("completion %s command error = %v", shell, err)
			}
		})
	}
}

func TestUnknownCommand(t *testing.T) {
	cmd := cli.NewRootCmd()
	buf := new(bytes.Buffer)
	cmd.SetOut(buf)
	cmd.SetErr(buf)
	cmd.SetArgs([]string{"unknown-command"})

	err := cmd.Execute()
	if err == nil {
		t.Error("unknown command should return an error")
	}
}

func TestMain(m *testing.M) {
	os.Exit(m.Run())
}
