// Package scaffold creates a starter powermatcher.yml.
package scaffold

import (
	"embed"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/anaelectric/powermatcher/internal/config"
)

// FileName is the configuration file written by Initialize.
const FileName = "powermatcher.yml"

//go:embed templates/*
var templatesFS embed.FS

// Render returns the starter configuration for cluster.
func Render(cluster string) ([]byte, error) {
	if cluster == "" {
		cluster = config.DefaultCluster
	}
	tmpl, err := templatesFS.ReadFile("templates/powermatcher.yml.tmpl")
	if err != nil {
		return nil, fmt.Errorf("failed to read %s template: %w", FileName, err)
	}
	return []byte(strings.ReplaceAll(string(tmpl), "{{CLUSTER}}", cluster)), nil
}

// Initialize writes the starter configuration into dir and validates it.
// An existing file is only replaced when force is set.
func Initialize(dir, cluster string, force bool) (string, error) {
	path := filepath.Join(dir, FileName)

	if !force {
		if err := CheckExisting(dir); err != nil {
			return "", err
		}
	}

	content, err := Render(cluster)
	if err != nil {
		return "", err
	}

	if err := os.WriteFile(path, content, 0644); err != nil {
		return "", fmt.Errorf("failed to write %s: %w", path, err)
	}

	if _, err := config.Load(path); err != nil {
		return "", fmt.Errorf("created %s is not valid: %w", path, err)
	}

	return path, nil
}

// PrintSuccess describes the created file and the next steps.
func PrintSuccess(w io.Writer, path string) {
	fmt.Fprintln(w, "\n✅ Successfully initialized PowerMatcher cluster!")
	fmt.Fprintln(w, "\nCreated:")
	fmt.Fprintf(w, "  ✓ %s\n", path)
	fmt.Fprintln(w, "\nNext steps:")
	fmt.Fprintln(w, "  1. Describe your concentrators and agents in the file")
	fmt.Fprintf(w, "  2. Check it with 'powermatcher validate -f %s'\n", path)
	fmt.Fprintf(w, "  3. Start the cluster with 'powermatcher run -f %s'\n", path)
}
