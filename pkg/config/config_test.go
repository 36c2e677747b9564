package config

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

type sample struct {
	Name  string `yaml:"name"`
	Count int    `yaml:"count"`
}

func (s *sample) Validate() error {
	if s.Name == "" {
		return errors.New("name is required")
	}
	return nil
}

func writeFile(t *testing.T, content string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(p, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return p
}

func TestRead_ExpandsEnvAndKeepsDefaults(t *testing.T) {
	t.Setenv("SAMPLE_NAME", "wiki")
	p := writeFile(t, "name: ${SAMPLE_NAME}\n")

	s := sample{Count: 7}
	if err := Read(p, &s); err != nil {
		t.Fatalf("Read: %v", err)
	}
	if s.Name != "wiki" {
		t.Errorf("name = %q, want %q", s.Name, "wiki")
	}
	if s.Count != 7 {
		t.Errorf("count = %d, want 7", s.Count)
	}
}

func TestReadOptional_MissingFile(t *testing.T) {
	var s sample
	found, err := ReadOptional(filepath.Join(t.TempDir(), "nope.yaml"), &s)
	if err != nil || found {
		t.Errorf("ReadOptional = %v, %v; want false, nil", found, err)
	}
	found, err = ReadOptional("", &s)
	if err != nil || found {
		t.Errorf("ReadOptional(\"\") = %v, %v; want false, nil", found, err)
	}
}

func TestReadOptional_BadYAML(t *testing.T) {
	p := writeFile(t, "name: [unclosed\n")
	var s sample
	if _, err := ReadOptional(p, &s); err == nil {
		t.Error("expected parse error")
	}
}

func TestValidate(t *testing.T) {
	p := writeFile(t, "count: 1\n")
	var s sample
	if err := Read(p, &s); err != nil {
		t.Fatalf("Read: %v", err)
	}
	err := Validate(&s)
	if err == nil || !strings.Contains(err.Error(), "name is required") {
		t.Errorf("Validate = %v, want validation error", err)
	}
	if err := Validate(struct{}{}); err != nil {
		t.Errorf("Validate without validator = %v, want nil", err)
	}
}
