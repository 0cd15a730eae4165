package cli

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/hyperjump/vaultsearch/internal/models"
)

func TestParseOutputFormat(t *testing.T) {
	tests := []struct {
		in      string
		want    OutputFormat
		wantErr bool
	}{
		{"", OutputText, false},
		{"text", OutputText, false},
		{"JSON", OutputJSON, false},
		{" compact ", OutputCompact, false},
		{"yaml", "", true},
	}
	for _, tt := range tests {
		got, err := ParseOutputFormat(tt.in)
		if (err != nil) != tt.wantErr || got != tt.want {
			t.Errorf("ParseOutputFormat(%q) = %q, %v", tt.in, got, err)
		}
	}
}

var sampleResults = []models.SearchResult{
	{Path: "notes/a.md", Score: 0.91234},
	{Path: "notes/b.md", Score: 0.5},
}

func TestWriteSearchResults(t *testing.T) {
	t.Run("json", func(t *testing.T) {
		var buf bytes.Buffer
		if err := WriteSearchResults(&buf, sampleResults, OutputJSON); err != nil {
			t.Fatal(err)
		}
		var decoded models.SearchResponse
		if err := json.Unmarshal(buf.Bytes(), &decoded); err != nil {
			t.Fatalf("output is not valid JSON: %v\n%s", err, buf.String())
		}
		if len(decoded.Results) != 2 || decoded.Results[0].Path != "notes/a.md" {
			t.Errorf("decoded %+v", decoded)
		}
	})

	t.Run("json empty", func(t *testing.T) {
		var buf bytes.Buffer
		if err := WriteSearchResults(&buf, nil, OutputJSON); err != nil {
			t.Fatal(err)
		}
		if !strings.Contains(buf.String(), `"results": []`) {
			t.Errorf("empty results should encode as [], got %s", buf.String())
		}
	})

	t.Run("compact", func(t *testing.T) {
		var buf bytes.Buffer
		if err := WriteSearchResults(&buf, sampleResults, OutputCompact); err != nil {
			t.Fatal(err)
		}
		want := "0.9123\tnotes/a.md\n0.5000\tnotes/b.md\n"
		if buf.String() != want {
			t.Errorf("got %q, want %q", buf.String(), want)
		}
	})

	t.Run("text", func(t *testing.T) {
		var buf bytes.Buffer
		if err := WriteSearchResults(&buf, sampleResults, OutputText); err != nil {
			t.Fatal(err)
		}
		out := buf.String()
		for _, want := range []string{"RANK", "1.", "0.9123", "notes/a.md", "2.", "notes/b.md"} {
			if !strings.Contains(out, want) {
				t.Errorf("text output missing %q:\n%s", want, out)
			}
		}
	})

	t.Run("text empty", func(t *testing.T) {
		var buf bytes.Buffer
		if err := WriteSearchResults(&buf, nil, OutputText); err != nil {
			t.Fatal(err)
		}
		if !strings.Contains(buf.String(), "No results") {
			t.Errorf("got %q", buf.String())
		}
	})
}

func TestWriteVector(t *testing.T) {
	vec := []float32{0.1, 0.2, 0.3, 0.4, 0.5, 0.6, 0.7, 0.8, 0.9, 1}
	var buf bytes.Buffer
	if err := WriteVector(&buf, vec, OutputText); err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(buf.String(), "dimensions: 10") || !strings.Contains(buf.String(), "...") {
		t.Errorf("text: %q", buf.String())
	}

	buf.Reset()
	if err := WriteVector(&buf, vec[:2], OutputCompact); err != nil {
		t.Fatal(err)
	}
	if buf.String() != "0.1 0.2\n" {
		t.Errorf("compact: %q", buf.String())
	}

	buf.Reset()
	if err := WriteVector(&buf, vec[:2], OutputJSON); err != nil {
		t.Fatal(err)
	}
	var decoded models.EmbedResponse
	if err := json.Unmarshal(buf.Bytes(), &decoded); err != nil || len(decoded.Vector) != 2 {
		t.Errorf("json: %v %+v", err, decoded)
	}
}

func TestWriteModels(t *testing.T) {
	var buf bytes.Buffer
	if err := WriteModels(&buf, []string{"all-minilm", "nomic-embed-text"}, "nomic-embed-text", OutputText); err != nil {
		t.Fatal(err)
	}
	if buf.String() != "  all-minilm\n* nomic-embed-text\n" {
		t.Errorf("got %q", buf.String())
	}

	buf.Reset()
	if err := WriteModels(&buf, nil, "", OutputText); err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(buf.String(), "No models") {
		t.Errorf("got %q", buf.String())
	}
}

func TestWriteRun(t *testing.T) {
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	run := &models.RunResult{
		ID: "0123456789abcdef", Kind: models.RunReconcile, Total: 12, Stale: 3, Indexed: 2, Failed: 1,
		Started: start, Finished: start.Add(1500 * time.Millisecond),
	}
	var buf bytes.Buffer
	if err := WriteRun(&buf, run, OutputText); err != nil {
		t.Fatal(err)
	}
	want := "reconcile 01234567 in 1.5s: 12 documents, 3 stale, 2 indexed, 0 skipped, 1 failed, 0 pruned\n"
	if buf.String() != want {
		t.Errorf("got %q, want %q", buf.String(), want)
	}

	buf.Reset()
	if err := WriteRun(&buf, run, OutputCompact); err != nil {
		t.Fatal(err)
	}
	if buf.String() != "0123456789abcdef\treconcile\t12\t3\t2\t0\t1\t0\n" {
		t.Errorf("compact: %q", buf.String())
	}
}

func TestWriteStatus(t *testing.T) {
	status := &models.StatusResponse{
		Entries: 3, Dimensions: 768, SizeBytes: 2048, DiskUsageBytes: 5 << 20,
		ProviderURL: "http://localhost:11434",
		LastRun:     &models.RunResult{ID: "abc", Kind: models.RunRebuild, Indexed: 3},
	}
	failures := []*models.SyncFailure{{Path: "notes/bad.md", Error: "timeout", Attempts: 2}}
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	runs := []*models.RunResult{{ID: "run-2", Kind: models.RunReconcile, Indexed: 7, Pruned: 1,
		Started: start, Finished: start.Add(2 * time.Second)}}

	var buf bytes.Buffer
	if err := WriteStatus(&buf, status, failures, runs, OutputText); err != nil {
		t.Fatal(err)
	}
	out := buf.String()
	for _, want := range []string{"Entries:", "768", "2.0 KiB", "5.0 MiB", "(none selected)", "rebuild", "notes/bad.md", "2 attempt(s)", "Recent runs:", "reconcile", "2s"} {
		if !strings.Contains(out, want) {
			t.Errorf("status output missing %q:\n%s", want, out)
		}
	}

	buf.Reset()
	if err := WriteStatus(&buf, status, nil, runs, OutputJSON); err != nil {
		t.Fatal(err)
	}
	var decoded map[string]interface{}
	if err := json.Unmarshal(buf.Bytes(), &decoded); err != nil {
		t.Fatal(err)
	}
	if decoded["entries"].(float64) != 3 {
		t.Errorf("entries = %v", decoded["entries"])
	}
	if f, ok := decoded["failures"].([]interface{}); !ok || len(f) != 0 {
		t.Errorf("failures = %v", decoded["failures"])
	}
	if r, ok := decoded["recent_runs"].([]interface{}); !ok || len(r) != 1 {
		t.Errorf("recent_runs = %v", decoded["recent_runs"])
	}

	buf.Reset()
	if err := WriteStatus(&buf, status, nil, nil, OutputText); err != nil {
		t.Fatal(err)
	}
	if strings.Contains(buf.String(), "Recent runs:") || strings.Contains(buf.String(), "Failed documents") {
		t.Errorf("empty sections should be omitted:\n%s", buf.String())
	}
}

func TestFormatBytes(t *testing.T) {
	tests := map[int64]string{0: "0 B", 1023: "1023 B", 1024: "1.0 KiB", 1536: "1.5 KiB", 1 << 30: "1.0 GiB"}
	for n, want := range tests {
		if got := formatBytes(n); got != want {
			t.Errorf("formatBytes(%d) = %q, want %q", n, got, want)
		}
	}
}
