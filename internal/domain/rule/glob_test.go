package rule

import "testing"

func TestGlobMatch(t *testing.T) {
	tests := []struct {
		pattern string
		name    string
		want    bool
	}{
		{"delete_*", "delete_index", true},
		{"delete_*", "delete_", true},
		{"delete_*", "create_index", false},
		{"*", "anything", true},
		{"send_email", "send_email", true},
		{"send_email", "send_emails", false},
		{"read_?ile", "read_file", true},
		{"read_?ile", "read_file2", false},
		{"*_file", "read_file", true},
		{"*_file", "read_file_extra", false},
		{"a*b*c", "axxbyyc", true},
		{"a*b*c", "axxbyy", false},
		{"", "", true},
		{"", "x", false},
	}

	for _, tt := range tests {
		t.Run(tt.pattern+"/"+tt.name, func(t *testing.T) {
			if got := globMatch(tt.pattern, tt.name); got != tt.want {
				t.Errorf("globMatch(%q, %q) = %v, want %v", tt.pattern, tt.name, got, tt.want)
			}
		})
	}
}
