// Copyright 2026 The Burrow Authors
// SPDX-License-Identifier: Apache-2.0

package sandbox

import (
	"strings"
	"testing"
)

func TestEtcPasswd(t *testing.T) {
	got := etcPasswd("sandboxuser", 1000, 1000, "/home/sandboxuser", "/usr/bin/zsh")
	if !strings.Contains(got, "sandboxuser:x:1000:1000::/home/sandboxuser:/usr/bin/zsh\n") {
		t.Errorf("passwd missing sandbox user entry:\n%s", got)
	}
	if !strings.HasPrefix(got, "root:x:0:0:") {
		t.Errorf("passwd missing root entry:\n%s", got)
	}
}

func TestEtcGroup(t *testing.T) {
	got := etcGroup("sandboxuser", 1000)
	if !strings.Contains(got, "sandboxuser:x:1000:\n") {
		t.Errorf("group missing sandbox group entry:\n%s", got)
	}
}

func TestEtcHosts(t *testing.T) {
	got := etcHosts("testbox")
	for _, want := range []string{
		"127.0.0.1       localhost",
		"testbox.localdomain",
		"testbox.local\n",
	} {
		if !strings.Contains(got, want) {
			t.Errorf("hosts missing %q:\n%s", want, got)
		}
	}
	if strings.Contains(got, "%") {
		t.Errorf("unexpanded format verb:\n%s", got)
	}
}
