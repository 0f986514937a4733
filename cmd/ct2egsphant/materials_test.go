package main

import (
	"bytes"
	"errors"
	"strings"
	"testing"

	"ct2egsphant/pkg/materials"
)

func TestPrintMaterials(t *testing.T) {
	var out bytes.Buffer
	if err := printMaterials(&out, materials.Default(), []string{materials.Bone}); err != nil {
		t.Fatalf("printMaterials failed: %v", err)
	}
	if !strings.Contains(out.String(), materials.Bone) || !strings.Contains(out.String(), "HU") {
		t.Errorf("Unexpected output:\n%s", out.String())
	}

	err := printMaterials(&out, materials.Default(), []string{"PLUTONIUM"})
	var nf *materials.NotFoundError
	if !errors.As(err, &nf) || nf.Name != "PLUTONIUM" {
		t.Errorf("Expected NotFoundError, got %v", err)
	}
}
