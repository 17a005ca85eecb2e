package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func writeBatch(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatalf("failed to write batch file: %v", err)
	}
	return path
}

func TestLoadBatchYAML(t *testing.T) {
	path := writeBatch(t, "runs.yaml", `
defaults:
  backend: jira
  issue-user: alice
  issue-password: pw
runs:
  - project-name: zookeeper
    issueurl: https://issues.apache.org/jira/rest/api/2/search?jql=project=ZOOKEEPER
  - project-name: kafka
    backend: github
    issueurl: https://api.github.com/repos/apache/kafka/issues/
    token: t0k
`)
	base := &Settings{Debug: "INFO", PageSize: 25}

	runs, err := LoadBatch(path, base)
	if err != nil {
		t.Fatalf("LoadBatch() = %v", err)
	}
	if len(runs) != 2 {
		t.Fatalf("got %d runs, want 2", len(runs))
	}
	if runs[0].Backend != "jira" || runs[0].IssueUser != "alice" || runs[0].PageSize != 25 || runs[0].Debug != "INFO" {
		t.Errorf("first run did not inherit defaults: %+v", runs[0])
	}
	if runs[1].Backend != "github" || runs[1].Token != "t0k" {
		t.Errorf("second run = %+v", runs[1])
	}
	if runs[1].IssueURL != "https://api.github.com/repos/apache/kafka/issues" {
		t.Errorf("second run URL not normalized: %q", runs[1].IssueURL)
	}
}

func TestLoadBatchTOML(t *testing.T) {
	path := writeBatch(t, "runs.toml", `
[defaults]
backend = "bugzilla"

[[runs]]
project-name = "widget"
issueurl = "https://bugs.example.org/rest/bug?product=Widget"
`)
	runs, err := LoadBatch(path, nil)
	if err != nil {
		t.Fatalf("LoadBatch() = %v", err)
	}
	if len(runs) != 1 || runs[0].Backend != "bugzilla" || runs[0].Project != "widget" {
		t.Errorf("runs = %+v", runs)
	}
}

func TestLoadBatchErrors(t *testing.T) {
	tests := []struct {
		name    string
		file    string
		content string
	}{
		{"unknown extension", "runs.json", `{}`},
		{"no runs", "runs.yaml", "defaults:\n  backend: jira\n"},
		{"invalid run", "runs.yaml", "runs:\n  - project-name: x\n"},
		{"malformed", "runs.toml", "[[runs]\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := LoadBatch(writeBatch(t, tt.file, tt.content), nil)
			if !errors.Is(err, ErrInvalid) {
				t.Errorf("LoadBatch() = %v, want ErrInvalid", err)
			}
		})
	}
}
