// Package restore implements ContainerRestore (spec.md §4.7) and
// StackRestore (§4.8): reconstructing containers and stacks from
// artifacts produced by internal/backupengine. Grounded in the
// teacher's internal/backup/direct_volume.go RestoreDirectVolume flow
// (temp-container tar injection, stop/restart bookkeeping), extended
// to cover image pull, port/bind rewriting and the phased stack
// pipeline the unified archive format requires.
package restore

import (
	"encoding/json"
	"fmt"
	"strings"
)

// configDoc mirrors backupengine's config.json schema (spec.md §6) on
// the read side; restore only consumes it, never produces it.
type configDoc struct {
	Name            string            `json:"name"`
	Image           string            `json:"image"`
	Env             []string          `json:"env"`
	HostConfig      hostConfigDoc     `json:"hostConfig"`
	Cmd             []string          `json:"cmd"`
	NetworkSettings networkSettingsDoc `json:"networkSettings"`
	AppType         string            `json:"appType"`
	BackupPaths     []string          `json:"backupPaths"`
	ComposeProject  string            `json:"composeProject,omitempty"`
	ComposeService  string            `json:"composeService,omitempty"`
	Timestamp       string            `json:"timestamp"`
}

type hostConfigDoc struct {
	PortBindings map[string]string `json:"PortBindings"`
	Binds        []string          `json:"Binds"`
}

type networkSettingsDoc struct {
	Networks []string `json:"Networks"`
}

func parseConfigDoc(raw []byte) (configDoc, error) {
	var doc configDoc
	if err := json.Unmarshal(raw, &doc); err != nil {
		return configDoc{}, fmt.Errorf("parse config.json: %w", err)
	}
	return doc, nil
}

// parseEnvMap splits docker's "K=V" env slice form into a map, skipping
// malformed entries (mirrors backupengine's parseEnvMap on the read side).
func parseEnvMap(env []string) map[string]string {
	out := make(map[string]string, len(env))
	for _, kv := range env {
		if idx := strings.IndexByte(kv, '='); idx > 0 {
			out[kv[:idx]] = kv[idx+1:]
		}
	}
	return out
}
