package engine

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"strings"

	"github.com/updraft-io/updraft/internal/archive"
	"github.com/updraft-io/updraft/internal/config"
	"github.com/updraft-io/updraft/internal/ir"
)

// Decision is the per-unit outcome of comparing a computed content hash
// against the deployment record.
type Decision string

const (
	DecisionDeploy    Decision = "deploy"
	DecisionUnchanged Decision = "unchanged"
)

// Hasher computes content hashes over exactly the bytes that end up in
// a unit's archive, plus the configuration that shapes its deployed
// form and the hashes of its dependencies.
type Hasher struct {
	cfg *config.Config
}

func NewHasher(cfg *config.Config) *Hasher {
	return &Hasher{cfg: cfg}
}

// HashUnit digests a single unit. depHashes must hold the hashes of the
// unit's dependencies; they are sorted before digesting so declaration
// order never changes the result.
func (h *Hasher) HashUnit(unit *ir.Unit, depHashes []ir.ContentHash) (ir.ContentHash, error) {
	entries, err := archive.SourceFiles(unit)
	if err != nil {
		return "", err
	}

	digest := sha256.New()
	for _, entry := range entries {
		data, err := entry.Content()
		if err != nil {
			return "", err
		}
		exec := 0
		if entry.Mode&0o100 != 0 {
			exec = 1
		}
		fmt.Fprintf(digest, "file\x00%s\x00%d\x00%d\x00", entry.Rel, exec, len(data))
		digest.Write(data)
	}

	for _, line := range h.configLines(unit) {
		fmt.Fprintf(digest, "config\x00%s\x00", line)
	}

	sorted := make([]string, 0, len(depHashes))
	for _, dep := range depHashes {
		sorted = append(sorted, string(dep))
	}
	sort.Strings(sorted)
	for _, dep := range sorted {
		fmt.Fprintf(digest, "dep\x00%s\x00", dep)
	}

	return ir.ContentHash(hex.EncodeToString(digest.Sum(nil))), nil
}

// HashAll hashes every unit in dependency order. Units whose sources
// cannot be read, and units downstream of those, land in the failure
// map instead of the hash map.
func (h *Hasher) HashAll(manifest *ir.Manifest, graph *Graph) (map[string]ir.ContentHash, map[string]error) {
	hashes := make(map[string]ir.ContentHash, len(manifest.Units))
	failed := make(map[string]error)

	for _, batch := range graph.Plan().Batches {
		for _, id := range batch {
			unit, ok := manifest.Unit(id)
			if !ok {
				failed[id] = fmt.Errorf("unit %s missing from manifest", id)
				continue
			}

			var depHashes []ir.ContentHash
			blocked := ""
			for _, dep := range graph.Dependencies(id) {
				if _, bad := failed[dep]; bad {
					blocked = dep
					break
				}
				depHashes = append(depHashes, hashes[dep])
			}
			if blocked != "" {
				failed[id] = fmt.Errorf("dependency %s could not be hashed", blocked)
				continue
			}

			hash, err := h.HashUnit(unit, depHashes)
			if err != nil {
				failed[id] = err
				continue
			}
			hashes[id] = hash
		}
	}
	return hashes, failed
}

// configLines canonicalizes the deploy-relevant configuration of a unit
// into sorted key=value lines.
func (h *Hasher) configLines(unit *ir.Unit) []string {
	lines := make([]string, 0, 8+len(unit.Config.Environment))
	add := func(key, value string) {
		if value != "" {
			lines = append(lines, key+"="+value)
		}
	}

	add("runtime", unit.Config.Runtime)
	add("handler", unit.Config.Handler)
	add("method", unit.Config.Method)
	add("path", unit.Config.Path)
	add("target", unit.Config.TargetFunction)
	if unit.Config.Public {
		add("public", "true")
	}
	if len(unit.Config.CompatibleRuntimes) > 0 {
		add("compatible_runtimes", strings.Join(unit.Config.CompatibleRuntimes, ","))
	}
	if unit.Kind == ir.KindFunction {
		add("role", h.cfg.RoleARN())
	}
	for k, v := range unit.Config.Environment {
		add("env."+k, v)
	}

	sort.Strings(lines)
	return lines
}

// Decide returns DecisionUnchanged only when a recorded hash exists,
// matches the computed hash, and the remote resource is still believed
// valid. Any doubt resolves to a deploy.
func Decide(computed ir.ContentHash, entry *ir.RecordEntry, remoteValid bool) Decision {
	if entry == nil || entry.ContentHash == "" {
		return DecisionDeploy
	}
	if !remoteValid {
		return DecisionDeploy
	}
	if entry.ContentHash != computed {
		return DecisionDeploy
	}
	return DecisionUnchanged
}
