// Copyright 2023 The Chromium Authors
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

package main

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/maruel/subcommands"
)

func TestApplicationCommands(t *testing.T) {
	app := getApplication(context.Background())
	seen := make(map[string]bool)
	for _, c := range app.GetCommands() {
		name := c.Name()
		if seen[name] {
			t.Errorf("duplicate command %q", name)
		}
		seen[name] = true
	}
	for _, name := range []string{"usages", "guard", "expand", "states", "help", "version"} {
		if !seen[name] {
			t.Errorf("command %q is not registered", name)
		}
	}
}

func TestApplicationRun(t *testing.T) {
	dir := t.TempDir()
	for name, content := range map[string]string{
		"a.h": "#ifndef A_H\n#define A_H\n#define VALUE 1\n#endif\n",
		"a.c": "#include \"a.h\"\nint a = VALUE;\n",
	} {
		err := os.WriteFile(filepath.Join(dir, name), []byte(content), 0644)
		if err != nil {
			t.Fatal(err)
		}
	}
	ctx := context.Background()
	for _, tc := range []struct {
		name string
		args []string
		want int
	}{
		{
			name: "guard",
			args: []string{"guard", "-C", dir, filepath.Join(dir, "a.h")},
		},
		{
			name: "usages",
			args: []string{"usages", "-C", dir, "-json", filepath.Join(dir, "a.c")},
		},
		{
			name: "usages-header-stats",
			args: []string{"usages", "-C", dir, "-stats", filepath.Join(dir, "a.h")},
		},
		{
			name: "expand",
			args: []string{"expand", "-C", dir, "-fragment", "VALUE + 1", filepath.Join(dir, "a.c")},
		},
		{
			name: "states",
			args: []string{"states", "-C", dir, filepath.Join(dir, "a.c")},
		},
		{
			name: "usages-no-files",
			args: []string{"usages", "-C", dir},
			want: 1,
		},
		{
			name: "unknown",
			args: []string{"ninja"},
			want: 2,
		},
	} {
		t.Run(tc.name, func(t *testing.T) {
			got := subcommands.Run(getApplication(ctx), tc.args)
			if got != tc.want {
				t.Errorf("subcommands.Run(app, %q)=%d; want %d", tc.args, got, tc.want)
			}
		})
	}
}
