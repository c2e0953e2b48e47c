package validation

import (
	"path/filepath"
	"testing"
)

func TestValidateUUID(t *testing.T) {
	tests := []struct {
		name    string
		id      string
		wantErr bool
	}{
		{"valid UUID", "550e8400-e29b-41d4-a716-446655440000", false},
		{"valid UUID uppercase", "550E8400-E29B-41D4-A716-446655440000", false},
		{"empty", "", true},
		{"not a UUID", "not-a-uuid", true},
		{"braced form", "{550e8400-e29b-41d4-a716-446655440000}", true},
		{"urn form", "urn:uuid:550e8400-e29b-41d4-a716-446655440000", true},
		{"bad hex", "550e8400-e29b-41d4-a716-44665544000g", true},
		{"path traversal attempt", "../../../etc/passwd", true},
		{"SQL injection attempt", "'; DROP TABLE runs; --", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateUUID(tt.id)
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidateUUID() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestValidateRunID(t *testing.T) {
	tests := []struct {
		name    string
		id      string
		wantErr bool
	}{
		{"valid run ID", "550e8400-e29b-41d4-a716-446655440000", false},
		{"empty", "", true},
		{"schedule ID", "sched_0a1b2c3d", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateRunID(tt.id)
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidateRunID() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestValidateScheduleID(t *testing.T) {
	tests := []struct {
		name    string
		id      string
		wantErr bool
	}{
		{"valid", "sched_0a1b2c3d", false},
		{"empty", "", true},
		{"no prefix", "0a1b2c3d", true},
		{"too short", "sched_0a1b", true},
		{"uppercase hex", "sched_0A1B2C3D", true},
		{"trailing garbage", "sched_0a1b2c3d;", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateScheduleID(tt.id)
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidateScheduleID() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestValidateEvaluatorName(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		wantErr bool
	}{
		{"builtin", "flood", false},
		{"dotted", "hydro.v2", false},
		{"underscore", "my_model", false},
		{"empty", "", true},
		{"reserved", ReservedEvaluator, true},
		{"leading dash", "-x", true},
		{"space", "my model", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateEvaluatorName(tt.input)
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidateEvaluatorName(%q) error = %v, wantErr %v", tt.input, err, tt.wantErr)
			}
		})
	}
}

func TestSanitizePath(t *testing.T) {
	tests := []struct {
		name    string
		path    string
		want    string
		wantErr bool
	}{
		{"simple path", "cases/flood.yaml", "cases/flood.yaml", false},
		{"single component", "linear.jsonc", "linear.jsonc", false},
		{"with underscore", "my_case.json", "my_case.json", false},
		{"trailing slash", "cases/", "cases/", false},
		{"empty", "", "", true},
		{"path traversal", "../../../etc/passwd", "", true},
		{"path traversal in middle", "cases/../../../etc/passwd", "", true},
		{"absolute path", "/etc/passwd", "", true},
		{"unsafe chars semicolon", "foo;rm -rf /", "", true},
		{"unsafe chars space", "foo bar", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := SanitizePath(tt.path)
			if (err != nil) != tt.wantErr {
				t.Errorf("SanitizePath() error = %v, wantErr %v", err, tt.wantErr)
				return
			}
			if got != tt.want {
				t.Errorf("SanitizePath() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestResolveCasePath(t *testing.T) {
	root := filepath.Join("srv", "cases")

	got, err := ResolveCasePath(root, "hydro/flood.yaml")
	if err != nil {
		t.Fatalf("ResolveCasePath() error = %v", err)
	}
	if want := filepath.Join(root, "hydro", "flood.yaml"); got != want {
		t.Errorf("ResolveCasePath() = %q, want %q", got, want)
	}

	for _, bad := range []string{"../secret.yaml", "/etc/flood.yaml", "notes.txt", ""} {
		if _, err := ResolveCasePath(root, bad); err == nil {
			t.Errorf("ResolveCasePath(%q) should fail", bad)
		}
	}
}

func TestValidateContainerRef(t *testing.T) {
	tests := []struct {
		name    string
		ref     string
		wantErr bool
	}{
		{"full ID", "a1b2c3d4e5f60718293a4b5c6d7e8f90a1b2c3d4e5f60718293a4b5c6d7e8f90", false},
		{"short ID", "a1b2c3d4e5f6", false},
		{"container name", "hydro-model", false},
		{"empty", "", true},
		{"shell injection", "x; rm -rf /", true},
		{"slash", "a/b", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateContainerRef(tt.ref)
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidateContainerRef(%q) error = %v, wantErr %v", tt.ref, err, tt.wantErr)
			}
		})
	}
}
