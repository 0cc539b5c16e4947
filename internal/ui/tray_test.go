package ui

import (
	"bytes"
	"image/png"
	"testing"

	"github.com/lapseforge/lapseforge/internal/export"
)

func TestStatusLabel(t *testing.T) {
	tests := []struct {
		status export.Status
		want   string
	}{
		{export.Status{State: export.StateIdle}, "Idle"},
		{export.Status{State: export.StateExporting, ExportProgress: 0.42}, "Exporting 42%"},
		{export.Status{State: export.StateUnifying, UnifyProgress: 1}, "Finishing 100%"},
		{export.Status{State: export.StateImporting, Extracted: 3, Total: 40}, "Importing 3/40"},
		{export.Status{State: export.StateImporting}, "Importing"},
		{export.Status{State: export.StateCompleted, Kind: export.KindExport}, "Export finished"},
		{export.Status{State: export.StateCompleted, Kind: export.KindImport}, "Import finished"},
		{export.Status{State: export.StateFailed, Kind: export.KindImport}, "Import failed"},
		{export.Status{State: export.StateFailed}, "Export failed"},
	}

	for _, tt := range tests {
		if got := StatusLabel(tt.status); got != tt.want {
			t.Errorf("StatusLabel(%+v) = %q, want %q", tt.status, got, tt.want)
		}
	}
}

func TestStatusChanged_BeforeReady(t *testing.T) {
	tray := NewTray(TrayConfig{})
	tray.StatusChanged(export.Status{JobID: "j", State: export.StateExporting})
	if tray.last.JobID != "j" {
		t.Errorf("last status not recorded before the menu exists")
	}
}

func TestIconBytes(t *testing.T) {
	img, err := png.Decode(bytes.NewReader(iconBytes()))
	if err != nil {
		t.Fatalf("icon is not a png: %v", err)
	}
	if b := img.Bounds(); b.Dx() != 32 || b.Dy() != 32 {
		t.Errorf("icon size = %v, want 32x32", b)
	}
}
