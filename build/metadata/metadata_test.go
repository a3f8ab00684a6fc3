// Copyright 2023 The Chromium Authors
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

package metadata

import (
	"encoding/json"
	"runtime"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestMetadata(t *testing.T) {
	md := New()
	if err := md.Set("goos", "plan9"); err == nil {
		t.Errorf("Set(goos)=nil; want error")
	}
	if err := md.Set("", "x"); err == nil {
		t.Errorf("Set(\"\")=nil; want error")
	}
	if err := md.Set("project", "p"); err != nil {
		t.Errorf("Set(project)=%v; want nil", err)
	}
	if got, want := md.Get("goos"), runtime.GOOS; got != want {
		t.Errorf("Get(goos)=%q; want %q", got, want)
	}
	if diff := cmp.Diff([]string{"goarch", "goos", "num_cpu", "project"}, md.SortedKeys()); diff != "" {
		t.Errorf("SortedKeys() -want +got:\n%s", diff)
	}
	buf, err := json.Marshal(md)
	if err != nil {
		t.Fatalf("json.Marshal(md)=%v", err)
	}
	var got map[string]string
	if err := json.Unmarshal(buf, &got); err != nil {
		t.Fatalf("json.Unmarshal(%s)=%v", buf, err)
	}
	if got["project"] != "p" || len(got) != md.Size() {
		t.Errorf("json.Marshal(md)=%s; want %d entries with project=p", buf, md.Size())
	}
}
