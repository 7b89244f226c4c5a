package engine

import (
	"encoding/json"
	"testing"
)

func TestPropertyAt(t *testing.T) {
	props := json.RawMessage(`{
		"provisioningState": "Succeeded",
		"hardwareProfile": {"vmSize": "Standard_D2s_v3", "diskCount": 2},
		"capacity": 2500000
	}`)

	cases := []struct {
		path string
		want string
	}{
		{"provisioningState", "Succeeded"},
		{"hardwareProfile.vmSize", "Standard_D2s_v3"},
		// Numbers keep their literal form.
		{"hardwareProfile.diskCount", "2"},
		{"capacity", "2500000"},
	}
	for _, tc := range cases {
		got, err := propertyAt(props, tc.path)
		if err != nil {
			t.Errorf("propertyAt(%s) failed: %v", tc.path, err)
			continue
		}
		if got != tc.want {
			t.Errorf("propertyAt(%s) = %q, want %q", tc.path, got, tc.want)
		}
	}

	if _, err := propertyAt(props, "hardwareProfile.missing"); err == nil {
		t.Error("missing property should be an error")
	}
	if _, err := propertyAt(json.RawMessage(`not json`), "x"); err == nil {
		t.Error("unparseable properties should be an error")
	}
}
