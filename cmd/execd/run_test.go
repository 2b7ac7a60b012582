package main

import (
	"os"
	"path/filepath"
	"testing"
)

func writeTemp(t *testing.T, dir, name, content string) string {
	t.Helper()
	p := filepath.Join(dir, name)
	if err := os.WriteFile(p, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return p
}

func TestBuildRequestFromManifest(t *testing.T) {
	dir := t.TempDir()
	manifest := writeTemp(t, dir, "job.yaml", `
code: |
  print(open("data/in.txt").read())
timeoutMs: 4000
files:
  - path: data/in.txt
    content: hello
`)
	extra := writeTemp(t, dir, "extra.csv", "a,b\n")

	req, err := buildRequest(nil, manifest, []string{"input/extra.csv=" + extra}, nil)
	if err != nil {
		t.Fatalf("buildRequest: %v", err)
	}
	if req.Code != "print(open(\"data/in.txt\").read())\n" {
		t.Errorf("code = %q", req.Code)
	}
	if req.TimeoutMs == nil || *req.TimeoutMs != 4000 {
		t.Errorf("timeout = %v, want 4000", req.TimeoutMs)
	}
	if len(req.Files) != 2 {
		t.Fatalf("files = %+v", req.Files)
	}
	if req.Files[0].Path != "data/in.txt" || req.Files[0].Content != "hello" {
		t.Errorf("files[0] = %+v", req.Files[0])
	}
	if req.Files[1].Path != "input/extra.csv" || req.Files[1].Content != "a,b\n" {
		t.Errorf("files[1] = %+v", req.Files[1])
	}
}

func TestBuildRequestFileOverridesManifest(t *testing.T) {
	dir := t.TempDir()
	manifest := writeTemp(t, dir, "job.yaml", "code: old\ntimeoutMs: 4000\n")
	payload := writeTemp(t, dir, "main.py", "print('new')")

	timeout := 9000
	req, err := buildRequest([]string{payload}, manifest, nil, &timeout)
	if err != nil {
		t.Fatal(err)
	}
	if req.Code != "print('new')" {
		t.Errorf("code = %q", req.Code)
	}
	if req.TimeoutMs == nil || *req.TimeoutMs != 9000 {
		t.Errorf("timeout = %v, want 9000", req.TimeoutMs)
	}
}

func TestBuildRequestTimeout(t *testing.T) {
	dir := t.TempDir()
	payload := writeTemp(t, dir, "main.py", "pass")

	req, err := buildRequest([]string{payload}, "", nil, nil)
	if err != nil {
		t.Fatal(err)
	}
	if req.TimeoutMs != nil {
		t.Errorf("timeout = %d, want unset", *req.TimeoutMs)
	}

	zero := 0
	req, err = buildRequest([]string{payload}, "", nil, &zero)
	if err != nil {
		t.Fatal(err)
	}
	if req.TimeoutMs == nil || *req.TimeoutMs != 0 {
		t.Errorf("timeout = %v, want explicit 0", req.TimeoutMs)
	}

	manifest := writeTemp(t, dir, "job.yaml", "code: x\ntimeoutMs: 0\n")
	req, err = buildRequest(nil, manifest, nil, nil)
	if err != nil {
		t.Fatal(err)
	}
	if req.TimeoutMs == nil || *req.TimeoutMs != 0 {
		t.Errorf("manifest timeout = %v, want explicit 0", req.TimeoutMs)
	}
}

func TestParseFileFlag(t *testing.T) {
	dir := t.TempDir()
	src := writeTemp(t, dir, "sample.txt", "x")

	f, err := parseFileFlag(src)
	if err != nil {
		t.Fatal(err)
	}
	if f.Path != "sample.txt" || f.Content != "x" {
		t.Errorf("file = %+v", f)
	}

	for _, bad := range []string{"=" + src, "dst=", filepath.Join(dir, "missing")} {
		if _, err := parseFileFlag(bad); err == nil {
			t.Errorf("parseFileFlag(%q) succeeded", bad)
		}
	}
}
