package forge

import "testing"

func TestParseCITarget(t *testing.T) {
	tests := []struct {
		name    string
		command string
		want    ciTarget
		wantOK  bool
	}{
		{"valid", "ci:owner/repo@abc123 touch marker", ciTarget{"owner", "repo", "abc123"}, true},
		{"no prefix", "touch marker", ciTarget{}, false},
		{"no space", "ci:owner/repo@abc123", ciTarget{}, false},
		{"no sha", "ci:owner/repo@ touch marker", ciTarget{}, false},
		{"no slash", "ci:ownerrepo@abc123 touch marker", ciTarget{}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := parseCITarget(tt.command)
			if ok != tt.wantOK {
				t.Fatalf("ok = %v, want %v", ok, tt.wantOK)
			}
			if ok && got != tt.want {
				t.Errorf("target = %+v, want %+v", got, tt.want)
			}
		})
	}
}
