package check

import (
	"testing"
)

func TestResults_Bool(t *testing.T) {
	r := Results{"a": true, "b": false, "c": "true", "d": 1}
	if !r.Bool("a") {
		t.Error("expected a to be true")
	}
	for _, k := range []string{"b", "c", "d", "missing"} {
		if r.Bool(k) {
			t.Errorf("expected %s to be false", k)
		}
	}
}

func TestResults_MergeOverwrites(t *testing.T) {
	r := Results{"tcp.success": false, "keep": 1}
	r.Merge(Results{"tcp.success": true, "ssl.success": true})

	if !r.Bool("tcp.success") {
		t.Error("expected merged value to overwrite")
	}
	if r["keep"] != 1 {
		t.Error("expected existing key to survive")
	}
	if len(r) != 3 {
		t.Errorf("expected 3 keys, got %d", len(r))
	}
}

func TestResults_CloneIsIndependent(t *testing.T) {
	r := Results{"tcp.success": true}
	c := r.Clone()
	c["tcp.success"] = false
	if !r.Bool("tcp.success") {
		t.Error("modifying the clone changed the original")
	}
}

func TestResults_Layers(t *testing.T) {
	r := Results{
		"success":          true,
		"tcp.success":      true,
		"ssl.success":      true,
		"http.success":     true,
		"http.resp.status": 200,
	}
	layers := r.Layers()
	expected := []string{"http", "ssl", "tcp"}
	if len(layers) != len(expected) {
		t.Fatalf("expected %v, got %v", expected, layers)
	}
	for i := range expected {
		if layers[i] != expected[i] {
			t.Errorf("expected layer %q at %d, got %q", expected[i], i, layers[i])
		}
	}
}

func TestResults_Succeeded(t *testing.T) {
	cases := []struct {
		name string
		res  Results
		want bool
	}{
		{"all true", Results{"success": true, "tcp.success": true, "http.success": true}, true},
		{"layer false", Results{"success": true, "tcp.success": true, "http.success": false}, false},
		{"overall missing", Results{"tcp.success": true}, false},
		{"no layers", Results{"success": true}, false},
		{"non-bool layer", Results{"success": true, "tcp.success": "yes"}, false},
		{"empty", Results{}, false},
	}
	for _, tc := range cases {
		if got := tc.res.Succeeded(); got != tc.want {
			t.Errorf("%s: Succeeded() = %v, want %v", tc.name, got, tc.want)
		}
	}
}

func TestTimer_Record(t *testing.T) {
	res := NewResults()
	StartTimer().Record(res, "tcp.con")

	perf, ok := res["tcp.con.time.perf"].(float64)
	if !ok || perf < 0 {
		t.Errorf("expected non-negative perf time, got %v", res["tcp.con.time.perf"])
	}
	process, ok := res["tcp.con.time.process"].(float64)
	if !ok || process < 0 {
		t.Errorf("expected non-negative process time, got %v", res["tcp.con.time.process"])
	}
}
