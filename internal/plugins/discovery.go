package plugins

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"

	"github.com/opencode-studio/gateway/internal/logger"
	"github.com/opencode-studio/gateway/internal/model"
)

// Discoverer resolves plugin specs from merged config layers into roots,
// parses their manifests, and builds the registry snapshot Discover
// installs wholesale.
type Discoverer struct {
	cwd             string
	nodeModulesDirs []string
}

// NewDiscoverer builds a Discoverer resolving name@ref specs against cwd's
// node_modules first, then each of extraNodeModules in order (typically the
// per-app config directory's node_modules).
func NewDiscoverer(cwd string, extraNodeModules ...string) *Discoverer {
	return &Discoverer{cwd: cwd, nodeModulesDirs: extraNodeModules}
}

// Discover resolves every spec, parses whichever manifest it finds, and
// returns the records and manifests keyed by their (collision-resolved) id.
func (d *Discoverer) Discover(ctx context.Context, specs []string) (map[string]model.PluginRecord, map[string]*Manifest) {
	records := map[string]model.PluginRecord{}
	manifests := map[string]*Manifest{}
	used := map[string]bool{}

	for _, spec := range specs {
		rec, manifest := d.resolveOne(spec)
		id := uniqueID(used, rec.ID)
		rec.ID = id
		used[id] = true
		records[id] = rec
		if manifest != nil {
			manifests[id] = manifest
		}
	}
	return records, manifests
}

func uniqueID(used map[string]bool, base string) string {
	if !used[base] {
		return base
	}
	for n := 2; ; n++ {
		candidate := base + "-" + itoa(n)
		if !used[candidate] {
			return candidate
		}
	}
}

func itoa(n int) string {
	if n == 0 {
		return "0"
	}
	digits := []byte{}
	for n > 0 {
		digits = append([]byte{byte('0' + n%10)}, digits...)
		n /= 10
	}
	return string(digits)
}

func (d *Discoverer) resolveOne(spec string) (model.PluginRecord, *Manifest) {
	root, idHint, err := d.resolveRoot(spec)
	rec := model.PluginRecord{Spec: spec}
	if err != nil {
		rec.ID = sanitizeID(fallbackID(spec, idHint))
		rec.Status = model.PluginResolveError
		rec.Error = err.Error()
		return rec, nil
	}
	rec.RootPath = root
	rec.ID = sanitizeID(fallbackID(spec, idHint))

	manifest, manifestPath, err := d.loadManifest(root)
	if err != nil {
		rec.Status = model.PluginManifestMissing
		rec.Error = err.Error()
		return rec, nil
	}
	if manifest == nil {
		rec.Status = model.PluginManifestInvalid
		return rec, nil
	}

	rec.Status = model.PluginReady
	rec.ManifestPath = manifestPath
	rec.DisplayName = manifest.DisplayName
	rec.Version = manifest.Version
	rec.Capabilities = manifest.Capabilities
	if manifest.raw != nil {
		rec.Manifest = manifest.raw
	}
	return rec, manifest
}

func fallbackID(spec, hint string) string {
	if hint != "" {
		return hint
	}
	base := spec
	if idx := strings.Index(base, "@"); idx > 0 {
		base = base[:idx]
	}
	return filepath.Base(strings.TrimPrefix(strings.TrimPrefix(base, "file:"), "link:"))
}

// resolveRoot implements the spec resolution order: file:/link:/path-like,
// name@file:/name@path, name@ref, and bare package name.
func (d *Discoverer) resolveRoot(spec string) (root string, nameHint string, err error) {
	switch {
	case strings.HasPrefix(spec, "file:"):
		return d.resolvePath(strings.TrimPrefix(spec, "file:")), "", nil
	case strings.HasPrefix(spec, "link:"):
		return d.resolvePath(strings.TrimPrefix(spec, "link:")), "", nil
	case looksLikePath(spec):
		return d.resolvePath(spec), "", nil
	}

	if idx := strings.Index(spec, "@"); idx > 0 {
		name, ref := spec[:idx], spec[idx+1:]
		if strings.HasPrefix(ref, "file:") {
			return d.resolvePath(strings.TrimPrefix(ref, "file:")), name, nil
		}
		if looksLikePath(ref) {
			return d.resolvePath(ref), name, nil
		}
		return d.resolveNodeModule(name), name, errIfMissing(d.resolveNodeModule(name))
	}

	return d.resolveNodeModule(spec), spec, errIfMissing(d.resolveNodeModule(spec))
}

func looksLikePath(s string) bool {
	return strings.HasPrefix(s, "/") || strings.HasPrefix(s, "./") || strings.HasPrefix(s, "../") ||
		(len(s) >= 2 && s[1] == ':')
}

func (d *Discoverer) resolvePath(rel string) string {
	if filepath.IsAbs(rel) {
		return rel
	}
	return filepath.Join(d.cwd, rel)
}

func (d *Discoverer) resolveNodeModule(name string) string {
	candidates := append([]string{filepath.Join(d.cwd, "node_modules")}, d.nodeModulesDirs...)
	for _, dir := range candidates {
		p := filepath.Join(dir, name)
		if info, err := os.Stat(p); err == nil && info.IsDir() {
			return p
		}
	}
	return filepath.Join(d.cwd, "node_modules", name)
}

func errIfMissing(path string) error {
	if info, err := os.Stat(path); err != nil || !info.IsDir() {
		return os.ErrNotExist
	}
	return nil
}

// loadManifest tries package.json's opencodeStudio.manifest pointer, then
// the two conventional manifest filenames, in that order.
func (d *Discoverer) loadManifest(root string) (*Manifest, string, error) {
	if pkgPath := filepath.Join(root, "package.json"); fileExists(pkgPath) {
		if rel := readManifestPointer(pkgPath); rel != "" {
			p := filepath.Join(root, rel)
			if data, err := os.ReadFile(p); err == nil {
				m, err := parseManifest(data)
				return m, p, err
			}
		}
	}
	for _, rel := range manifestCandidates {
		p := filepath.Join(root, rel)
		if data, err := os.ReadFile(p); err == nil {
			m, err := parseManifest(data)
			return m, p, err
		}
	}
	return nil, "", os.ErrNotExist
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}

func readManifestPointer(pkgPath string) string {
	data, err := os.ReadFile(pkgPath)
	if err != nil {
		return ""
	}
	var pkg struct {
		OpencodeStudio struct {
			Manifest string `json:"manifest"`
		} `json:"opencodeStudio"`
	}
	if err := json.Unmarshal(data, &pkg); err != nil {
		return ""
	}
	return pkg.OpencodeStudio.Manifest
}

// Runner re-runs Discoverer.Discover on an interval and installs the result
// into reg, logging a summary each pass.
type Runner struct {
	discoverer *Discoverer
	specs      func() []string
	reg        *Registry
}

// NewRunner wires a Runner. specs is called fresh on every pass so config
// reloads are picked up without restarting the scheduler.
func NewRunner(discoverer *Discoverer, specs func() []string, reg *Registry) *Runner {
	return &Runner{discoverer: discoverer, specs: specs, reg: reg}
}

// RunOnce performs one discovery pass and installs it into the registry.
func (r *Runner) RunOnce(ctx context.Context) {
	records, manifests := r.discoverer.Discover(ctx, r.specs())
	r.reg.Replace(records, manifests)

	ready := 0
	for _, rec := range records {
		if rec.Status == model.PluginReady {
			ready++
		}
	}
	logger.Plugins().Info().Int("discovered", len(records)).Int("ready", ready).Msg("plugin discovery pass complete")
}
