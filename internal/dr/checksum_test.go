package dr

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

// Well-known vector: sha256("hello world").
const helloSum = "b94d27b9934d3e08a52e52d7da7dabfac484efe37a5380ee9088f7ace2efcde9"

func TestChecksumReader(t *testing.T) {
	sum, n, err := ChecksumReader(strings.NewReader("hello world"))
	if err != nil {
		t.Fatalf("ChecksumReader() error = %v", err)
	}
	if sum != helloSum {
		t.Errorf("sum = %q, want %q", sum, helloSum)
	}
	if n != 11 {
		t.Errorf("n = %d, want 11", n)
	}
}

func TestChecksumFile(t *testing.T) {
	t.Run("hashes file content", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "payload")
		if err := os.WriteFile(path, []byte("hello world"), 0o600); err != nil {
			t.Fatalf("failed to write file: %v", err)
		}

		sum, n, err := ChecksumFile(path)
		if err != nil {
			t.Fatalf("ChecksumFile() error = %v", err)
		}
		if sum != helloSum {
			t.Errorf("sum = %q, want %q", sum, helloSum)
		}
		if n != 11 {
			t.Errorf("n = %d, want 11", n)
		}
	})

	t.Run("missing file returns error", func(t *testing.T) {
		_, _, err := ChecksumFile(filepath.Join(t.TempDir(), "nope"))
		if err == nil {
			t.Error("ChecksumFile() expected error for missing file")
		}
	})
}

func TestFormatSidecar(t *testing.T) {
	got := FormatSidecar(helloSum, "appdb_full_backup_20260310_033000.dump")
	want := helloSum + "  appdb_full_backup_20260310_033000.dump\n"
	if got != want {
		t.Errorf("FormatSidecar() = %q, want %q", got, want)
	}
}

func TestParseSidecar(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    string
		wantErr bool
	}{
		{
			name:  "standard sha256sum line",
			input: helloSum + "  appdb_full_backup_20260310_033000.dump\n",
			want:  helloSum,
		},
		{
			name:  "bare hex digest",
			input: helloSum,
			want:  helloSum,
		},
		{
			name:  "uppercase hex is lowered",
			input: strings.ToUpper(helloSum) + "  payload.dump\n",
			want:  helloSum,
		},
		{
			name:  "surrounding whitespace",
			input: "  " + helloSum + "  payload.dump  \n\n",
			want:  helloSum,
		},
		{
			name:    "empty",
			input:   "",
			wantErr: true,
		},
		{
			name:    "truncated digest",
			input:   helloSum[:40] + "  payload.dump\n",
			wantErr: true,
		},
		{
			name:    "non-hex digest",
			input:   strings.Repeat("zz", 32) + "  payload.dump\n",
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseSidecar([]byte(tt.input))
			if tt.wantErr {
				if err == nil {
					t.Fatalf("ParseSidecar(%q) error = nil, want error", tt.input)
				}
				return
			}
			if err != nil {
				t.Fatalf("ParseSidecar(%q) error = %v", tt.input, err)
			}
			if got != tt.want {
				t.Errorf("ParseSidecar(%q) = %q, want %q", tt.input, got, tt.want)
			}
		})
	}
}

func TestSidecarRoundTrip(t *testing.T) {
	line := FormatSidecar(helloSum, "payload.dump")
	got, err := ParseSidecar([]byte(line))
	if err != nil {
		t.Fatalf("ParseSidecar() error = %v", err)
	}
	if got != helloSum {
		t.Errorf("ParseSidecar() = %q, want %q", got, helloSum)
	}
}
