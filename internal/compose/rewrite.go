package compose

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/fleetdock/fleetdock/internal/engine"
)

// Remapping is one human-readable record of a rewrite (spec.md §4.2,
// e.g. "web: 5432 -> 5433").
type Remapping string

// NetworkEnsurer is the subset of engine.Client the rewriter needs to
// realize external networks; satisfied by *engine.Client.
type NetworkEnsurer interface {
	EnsureNetwork(ctx context.Context, name string) error
}

// Rewrite applies the six ConflictRewriter transformations in order
// (spec.md §4.2) directly on the YAML node tree so untouched keys and
// values are kept (the tree is re-encoded, so formatting such as
// indentation and quoting may change), and returns the rewritten
// manifest text plus a remapping log.
func Rewrite(ctx context.Context, manifestText string, eng NetworkEnsurer, published map[int]bool) (string, []Remapping, error) {
	var doc yaml.Node
	if err := yaml.Unmarshal([]byte(manifestText), &doc); err != nil {
		return "", nil, fmt.Errorf("rewrite: parse: %w", err)
	}
	if len(doc.Content) == 0 {
		return manifestText, nil, nil
	}
	root := doc.Content[0]
	if root.Kind != yaml.MappingNode {
		return manifestText, nil, nil
	}

	var remappings []Remapping

	if services := mapValue(root, "services"); services != nil {
		for _, svcPair := range pairs(services) {
			svcName := svcPair.key.Value
			svc := svcPair.value
			if svc.Kind != yaml.MappingNode {
				continue
			}
			remappings = append(remappings, rewritePorts(svcName, svc, published)...)
			deleteKey(svc, "container_name")
			rewriteNetworkAddresses(svc)
			deleteKey(svc, "healthcheck")
			rewriteDependsOn(svc)
			deleteKey(svc, "dns")
			deleteKey(svc, "dns_search")
		}
	}

	externalNetworks := collectExternalNetworks(root)
	for _, name := range externalNetworks {
		if eng == nil {
			continue
		}
		if err := eng.EnsureNetwork(ctx, name); err != nil {
			return "", nil, fmt.Errorf("rewrite: ensure external network %q: %w", name, err)
		}
	}

	out, err := yaml.Marshal(&doc)
	if err != nil {
		return "", nil, fmt.Errorf("rewrite: marshal: %w", err)
	}
	return string(out), remappings, nil
}

type kv struct {
	key, value *yaml.Node
}

// pairs walks a MappingNode's flat Content slice as key/value pairs.
func pairs(m *yaml.Node) []kv {
	out := make([]kv, 0, len(m.Content)/2)
	for i := 0; i+1 < len(m.Content); i += 2 {
		out = append(out, kv{m.Content[i], m.Content[i+1]})
	}
	return out
}

// mapValue returns the value node for key in mapping m, or nil.
func mapValue(m *yaml.Node, key string) *yaml.Node {
	for _, p := range pairs(m) {
		if p.key.Value == key {
			return p.value
		}
	}
	return nil
}

// deleteKey removes key (and its value) from mapping m in place.
func deleteKey(m *yaml.Node, key string) {
	for i := 0; i+1 < len(m.Content); i += 2 {
		if m.Content[i].Value == key {
			m.Content = append(m.Content[:i], m.Content[i+2:]...)
			return
		}
	}
}

// rewritePorts applies transformation 1: for each "H:C[/proto]" entry,
// if H is unavailable, probe H+1, H+2, ... up to 65534.
func rewritePorts(serviceName string, svc *yaml.Node, published map[int]bool) []Remapping {
	ports := mapValue(svc, "ports")
	if ports == nil || ports.Kind != yaml.SequenceNode {
		return nil
	}
	var remappings []Remapping
	for _, entry := range ports.Content {
		if entry.Kind != yaml.ScalarNode {
			continue
		}
		newValue, oldHost, newHost, changed := rewritePortEntry(entry.Value, published)
		if changed {
			entry.Value = newValue
			remappings = append(remappings, Remapping(fmt.Sprintf("%s: %d -> %d", serviceName, oldHost, newHost)))
		}
	}
	return remappings
}

// rewritePortEntry parses one "H:C" or "H:C/proto" mapping and returns
// a possibly-substituted value.
func rewritePortEntry(raw string, published map[int]bool) (newValue string, oldHost, newHost int, changed bool) {
	proto := ""
	spec := raw
	if idx := strings.LastIndex(raw, "/"); idx != -1 {
		spec, proto = raw[:idx], raw[idx+1:]
	}
	parts := strings.SplitN(spec, ":", 2)
	if len(parts) != 2 {
		return raw, 0, 0, false
	}
	host, err := strconv.Atoi(parts[0])
	if err != nil {
		return raw, 0, 0, false
	}
	container := parts[1]

	if engine.PortAvailable(host, published) {
		return raw, host, host, false
	}

	candidate := host + 1
	for candidate <= 65534 {
		if engine.PortAvailable(candidate, published) {
			if published != nil {
				published[candidate] = true
			}
			rewritten := fmt.Sprintf("%d:%s", candidate, container)
			if proto != "" {
				rewritten += "/" + proto
			}
			return rewritten, host, candidate, true
		}
		candidate++
	}
	return raw, host, host, false
}

// rewriteNetworkAddresses applies transformation 3: delete
// ipv4_address/ipv6_address under each networks.<net> entry.
func rewriteNetworkAddresses(svc *yaml.Node) {
	nets := mapValue(svc, "networks")
	if nets == nil || nets.Kind != yaml.MappingNode {
		return
	}
	for _, p := range pairs(nets) {
		if p.value.Kind == yaml.MappingNode {
			deleteKey(p.value, "ipv4_address")
			deleteKey(p.value, "ipv6_address")
		}
	}
}

// rewriteDependsOn applies half of transformation 4: object-form
// depends_on entries with condition: service_healthy become
// service_started.
func rewriteDependsOn(svc *yaml.Node) {
	dep := mapValue(svc, "depends_on")
	if dep == nil || dep.Kind != yaml.MappingNode {
		return
	}
	for _, p := range pairs(dep) {
		if p.value.Kind != yaml.MappingNode {
			continue
		}
		for _, condPair := range pairs(p.value) {
			if condPair.key.Value == "condition" && condPair.value.Value == "service_healthy" {
				condPair.value.Value = "service_started"
			}
		}
	}
}

// collectExternalNetworks applies transformation 6: every top-level
// network marked external resolves to a bridge network name.
func collectExternalNetworks(root *yaml.Node) []string {
	nets := mapValue(root, "networks")
	if nets == nil || nets.Kind != yaml.MappingNode {
		return nil
	}
	var names []string
	for _, p := range pairs(nets) {
		if p.value.Kind != yaml.MappingNode {
			continue
		}
		ext := mapValue(p.value, "external")
		if ext == nil {
			continue
		}
		resolved := p.key.Value
		switch ext.Kind {
		case yaml.ScalarNode:
			if ext.Value == "false" {
				// external: false means managed, not external; nothing to ensure
				continue
			}
			if ext.Value != "true" {
				// external: "name" form (treated as a string network name)
				resolved = ext.Value
			}
		case yaml.MappingNode:
			if name := mapValue(ext, "name"); name != nil {
				resolved = name.Value
			}
		}
		names = append(names, resolved)
	}
	return names
}
