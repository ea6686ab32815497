package util

import (
	"fmt"
	"reflect"
	"testing"
)

func claimsFixture() map[string]any {
	return map[string]any{
		"iss":  "https://iam.example.org",
		"sub":  "a1b2c3",
		"role": "editor",
		"realm_access": map[string]any{
			"roles": []any{"admin", "editor"},
		},
		"resource_access": map[string]any{
			"accounts": map[string]any{
				"roles": []any{
					map[string]any{"name": "viewer", "scope": "read"},
					map[string]any{"name": "editor", "scope": "write"},
				},
			},
		},
	}
}

func TestJq(t *testing.T) {
	input := claimsFixture()

	tests := []struct {
		expected any
		name     string
		path     string
		wantErr  bool
	}{
		// Basic path traversal
		{
			name:     "Top-level key",
			path:     "role",
			expected: "editor",
			wantErr:  false,
		},
		{
			name:     "Leading dot",
			path:     ".sub",
			expected: "a1b2c3",
			wantErr:  false,
		},

		// Nested object access
		{
			name:     "Nested array index",
			path:     "realm_access.roles[0]",
			expected: "admin",
			wantErr:  false,
		},
		{
			name:     "Deep nested map in array",
			path:     "resource_access.accounts.roles[1].name",
			expected: "editor",
			wantErr:  false,
		},

		// Wildcards
		{
			name:     "Wildcard over array of maps",
			path:     "resource_access.accounts.roles[*].scope",
			expected: []any{"read", "write"},
			wantErr:  false,
		},

		// Errors
		{
			name:    "Missing key",
			path:    "groups",
			wantErr: true,
		},
		{
			name:    "Index out of range",
			path:    "realm_access.roles[5]",
			wantErr: true,
		},
		{
			name:    "Non-map traversal",
			path:    "role.nested",
			wantErr: true,
		},
		{
			name:    "Malformed index",
			path:    "realm_access.roles[abc]",
			wantErr: true,
		},
		{
			name:    "Empty path",
			path:    "",
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Jq(input, tt.path)
			if (err != nil) != tt.wantErr {
				t.Fatalf("Jq(%q) error = %v, wantErr %v", tt.path, err, tt.wantErr)
			}
			if tt.wantErr {
				return
			}
			if !reflect.DeepEqual(got, tt.expected) {
				t.Errorf("Jq(%q) = %v, expected %v", tt.path, got, tt.expected)
			}
		})
	}
}

func ExampleJq() {
	claims := map[string]any{
		"realm_access": map[string]any{
			"roles": []any{"admin", "editor"},
		},
	}
	role, _ := Jq(claims, "realm_access.roles[0]")
	fmt.Println(role)
	// Output: admin
}
