package lookup

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const resultPage = `<html><body>
<section id="main-container">
  <table class="table table-striped">
    <tr><th>USN</th><th>Name</th><th>Mobile</th></tr>
    <tr><td>2626 00007</td><td>R. Rao</td><td>98765 43210</td></tr>
    <tr><td>2626 00008</td><td>K. Devi</td><td>9123456789</td></tr>
  </table>
</section>
</body></html>`

func TestExtract(t *testing.T) {
	e := Extraction{Column: "Mobile", Digits: 10}

	tests := []struct {
		name       string
		page       string
		identifier string
		payload    string
		found      bool
	}{
		{"digits are normalized", resultPage, "2626 00007", "9876543210", true},
		{"second row", resultPage, "2626 00008", "9123456789", true},
		{"identifier not in table", resultPage, "2626 00009", "", false},
		{"not matched paragraph", `<p class="error">USN doesn't matched</p>`, "2626 00007", "", false},
		{"no container", `<table class="table"><tr><th>Mobile</th></tr></table>`, "2626 00007", "", false},
		{"missing column", strings.Replace(resultPage, "Mobile", "Phone", 1), "2626 00007", "", false},
		{"short payload", strings.Replace(resultPage, "98765 43210", "98765", 1), "2626 00007", "", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			payload, found, err := e.Extract(strings.NewReader(tt.page), tt.identifier)
			require.NoError(t, err)
			assert.Equal(t, tt.found, found)
			assert.Equal(t, tt.payload, payload)
		})
	}
}
