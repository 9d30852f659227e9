// Package backupengine implements ContainerBackup (spec.md §4.5) and
// StackBackup (§4.6): the backup-side branch selection, dump/volume
// capture and archive packaging. Grounded in the teacher's
// internal/backup/direct_volume.go capture flow and main.go's
// createBackupZip packaging, generalized from a single fixed volume
// strategy to the dump-vs-volume branch the app detector drives.
package backupengine

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/fleetdock/fleetdock/internal/appdetect"
	"github.com/fleetdock/fleetdock/internal/models"
)

// configDoc is the per-container config.json schema (spec.md §6).
type configDoc struct {
	Name            string            `json:"name"`
	Image           string            `json:"image"`
	Env             []string          `json:"env"`
	Ports           map[string]struct{} `json:"ports"`
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

func buildConfigDoc(handle models.ContainerHandle, appType appdetect.AppType, backupPaths []string) configDoc {
	ports := map[string]struct{}{}
	for port := range handle.Ports {
		ports[port] = struct{}{}
	}
	doc := configDoc{
		Name:    handle.Name,
		Image:   handle.Image,
		Env:     handle.Env,
		Ports:   ports,
		HostConfig: hostConfigDoc{
			PortBindings: handle.Ports,
			Binds:        handle.Binds,
		},
		Cmd:             handle.Cmd,
		NetworkSettings: networkSettingsDoc{Networks: handle.Networks},
		AppType:         string(appType),
		BackupPaths:     backupPaths,
		ComposeProject:  handle.Labels[models.ComposeProjectLabel],
		ComposeService:  handle.Labels[models.ComposeServiceLabel],
		Timestamp:       time.Now().UTC().Format(time.RFC3339),
	}
	return doc
}

func (d configDoc) marshal() ([]byte, error) {
	out, err := json.MarshalIndent(d, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("marshal config.json: %w", err)
	}
	return out, nil
}

// parseEnvMap splits docker's "K=V" env slice into a map.
func parseEnvMap(env []string) map[string]string {
	out := make(map[string]string, len(env))
	for _, kv := range env {
		k, v, ok := strings.Cut(kv, "=")
		if !ok {
			continue
		}
		out[k] = v
	}
	return out
}
