// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package main

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/CipherSaber/Autonomous-Firewall-Orchestrator/internal/ingest"
)

func TestFeedFanout_ReportsNoMatchWhenNoFeedHoldsValue(t *testing.T) {
	a := &ingest.FeedSource{SourceName: "a"}
	b := &ingest.FeedSource{SourceName: "b"}
	fanout := feedFanout{feeds: []*ingest.FeedSource{a, b}}

	_, ok := fanout.Lookup("1.2.3.4")
	assert.False(t, ok)
}

func TestResolveConfigPath_FallsBackToDefaultWhenEmpty(t *testing.T) {
	assert.Equal(t, defaultConfigPath(), resolveConfigPath(""))
	assert.Equal(t, "/tmp/custom.hcl", resolveConfigPath("/tmp/custom.hcl"))
}

func TestPidFilePath_IsUnderRunDir(t *testing.T) {
	assert.Contains(t, pidFilePath(), "orchestrator.pid")
}
