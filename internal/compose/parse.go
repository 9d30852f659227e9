// Package compose implements ComposeParser (spec.md §4.1), ConflictRewriter
// (§4.2) and the default ComposeDeployer adapter. The tagged-variant
// struct model for compose's array-vs-object union fields is grounded in
// MacJediWizard-keldris's internal/backup/docker/compose.go
// (ServiceConfig/VolumeConfig/NetworkConfig).
package compose

import (
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/fleetdock/fleetdock/internal/errkind"
	"github.com/fleetdock/fleetdock/internal/models"
)

// rawManifest mirrors docker-compose's top-level shape loosely enough to
// extract what ComposeParser needs while passing unknown keys through
// opaquely (they live untouched in the yaml.Node tree used by the
// rewriter; this struct is only used for read-side extraction).
type rawManifest struct {
	Name     string                `yaml:"name,omitempty"`
	Services map[string]rawService `yaml:"services"`
}

type rawService struct {
	Image       string      `yaml:"image,omitempty"`
	Volumes     []string    `yaml:"volumes,omitempty"`
	Environment interface{} `yaml:"environment,omitempty"` // []string or map[string]string
	Labels      interface{} `yaml:"labels,omitempty"`
}

// Parsed is the ComposeParser output: {stackName?, services}.
type Parsed struct {
	StackName string
	Services  map[string]models.ServiceDefinition
}

// Parse extracts {stackName?, services: {name -> {image, volumes, env}}}
// from manifest text. It never performs ${VAR} interpolation; that is a
// rewrite/redeploy-time concern (spec.md §4.1).
func Parse(manifestText string) (*Parsed, error) {
	var raw rawManifest
	if err := yaml.Unmarshal([]byte(manifestText), &raw); err != nil {
		return nil, fmt.Errorf("%w: %v", errkind.ErrParse, err)
	}

	result := &Parsed{
		StackName: raw.Name,
		Services:  make(map[string]models.ServiceDefinition, len(raw.Services)),
	}

	for name, svc := range raw.Services {
		result.Services[name] = models.ServiceDefinition{
			Image:                      svc.Image,
			DeclaredVolumeDestinations: extractVolumeDestinations(svc.Volumes),
			EnvOverrides:               extractEnv(svc.Environment),
		}
	}

	return result, nil
}

// extractVolumeDestinations applies the volume extraction rule: short
// form HOST:CONTAINER[:ro] keeps CONTAINER; short form CONTAINER alone
// keeps CONTAINER; long-form mapping entries are handled separately by
// ParseLongFormVolumes since the short-form []string can't carry them.
func extractVolumeDestinations(volumes []string) []string {
	dests := make([]string, 0, len(volumes))
	for _, v := range volumes {
		parts := strings.Split(v, ":")
		switch len(parts) {
		case 1:
			dests = append(dests, parts[0])
		case 2, 3:
			dests = append(dests, parts[1])
		default:
			dests = append(dests, v)
		}
	}
	return dests
}

// extractEnv accepts both array ("K=V") and map forms, splitting on the
// first "=" and permitting an empty value.
func extractEnv(env interface{}) map[string]string {
	result := map[string]string{}
	switch v := env.(type) {
	case []interface{}:
		for _, item := range v {
			s, ok := item.(string)
			if !ok {
				continue
			}
			k, val, _ := strings.Cut(s, "=")
			result[k] = val
		}
	case map[string]interface{}:
		for k, val := range v {
			result[k] = fmt.Sprintf("%v", val)
		}
	}
	return result
}

// longFormVolume models {target: X, ...} entries that can appear
// alongside short-form strings in a service's volumes list; compose
// permits mixing both forms in the same list.
type longFormVolume struct {
	Type   string `yaml:"type,omitempty"`
	Source string `yaml:"source,omitempty"`
	Target string `yaml:"target,omitempty"`
}

// ParseLongFormVolumes re-walks the raw YAML to pick up long-form
// {target: X} volume entries the []string-typed rawService.Volumes
// field above cannot represent, merging their targets into dests.
func ParseLongFormVolumes(manifestText string) (map[string][]string, error) {
	var doc struct {
		Services map[string]struct {
			Volumes []yaml.Node `yaml:"volumes,omitempty"`
		} `yaml:"services"`
	}
	if err := yaml.Unmarshal([]byte(manifestText), &doc); err != nil {
		return nil, fmt.Errorf("%w: %v", errkind.ErrParse, err)
	}

	out := map[string][]string{}
	for name, svc := range doc.Services {
		var dests []string
		for _, node := range svc.Volumes {
			switch node.Kind {
			case yaml.ScalarNode:
				parts := strings.Split(node.Value, ":")
				if len(parts) == 1 {
					dests = append(dests, parts[0])
				} else {
					dests = append(dests, parts[1])
				}
			case yaml.MappingNode:
				var lv longFormVolume
				if err := node.Decode(&lv); err == nil && lv.Target != "" {
					dests = append(dests, lv.Target)
				}
			}
		}
		out[name] = dests
	}
	return out, nil
}
