package agent

import (
	"context"
	"fmt"

	"github.com/nextlevelbuilder/oxicrab-gw/internal/cognitive"
	"github.com/nextlevelbuilder/oxicrab-gw/internal/discourse"
	"github.com/nextlevelbuilder/oxicrab-gw/internal/providers"
	"github.com/nextlevelbuilder/oxicrab-gw/internal/subagent"
	"github.com/nextlevelbuilder/oxicrab-gw/internal/tools"
)

const subagentMaxIterations = 8

// RunSubagent implements subagent.Runner: a reduced agent loop against the
// same provider and tool registry, restricted to tools that declare
// subagent access, with its own trimmed prompt and iteration cap. Spawned
// by subagent.Manager; never called directly by process_inbound.
func (l *Loop) RunSubagent(ctx context.Context, task *subagent.Task) (string, error) {
	key := "subagent:" + task.ID
	l.sessionMgr.GetOrCreate(key)
	l.sessionMgr.SetSpawnInfo(key, task.ParentKey, task.Depth)
	l.sessionMgr.AddMessage(key, providers.Message{Role: "user", Content: task.Prompt})

	systemPrompt := fmt.Sprintf("%s\n\nYou were spawned as a subagent to accomplish one focused task: %q. "+
		"Work efficiently and return a concise final result; you cannot ask the user follow-up questions.",
		l.cfg.Identity, task.Label)

	tracker := cognitive.New(l.cfg.Cognitive)
	dr := discourse.New()

	opts := subloopOptions{
		MaxIterations: subagentMaxIterations,
		ToolFilter:    subagentToolFilter,
	}
	return l.runSubloop(ctx, key, systemPrompt, tracker, dr, opts)
}

// subagentToolFilter admits tools the registry marks as reachable from a
// spawned subagent, per the tool's own Capabilities.SubagentAccess flag.
func subagentToolFilter(t tools.Tool) bool {
	switch t.Capabilities().SubagentAccess {
	case tools.SubagentAllowed, tools.SubagentChildOnly:
		return true
	default:
		return false
	}
}
