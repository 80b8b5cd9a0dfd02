package prospector

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"go.uber.org/zap"
)

// stubSourcePlugin satisfies SourcePluginInterface without a compiled .so.
type stubSourcePlugin struct {
	info      PluginInfo
	shutdowns int
}

func (p *stubSourcePlugin) Info() PluginInfo { return p.info }

func (p *stubSourcePlugin) Init(map[string]interface{}, *zap.Logger) error { return nil }

func (p *stubSourcePlugin) Shutdown() error {
	p.shutdowns++
	return nil
}

func (p *stubSourcePlugin) Name() string { return p.info.Name }

func (p *stubSourcePlugin) Detect(context.Context, ServiceFingerprint, string) ([]VulnerabilityFinding, error) {
	return nil, nil
}

func (p *stubSourcePlugin) Lookup(context.Context, string) (*VulnerabilityFinding, error) {
	return nil, nil
}

func registerSourcePlugin(pm *PluginManager, plugin *stubSourcePlugin) {
	name := plugin.info.Name
	pm.loadedPlugins[name] = plugin
	pm.sourcePlugins[name] = plugin
}

func TestPluginManager_VulnSourcesFiltersDisabled(t *testing.T) {
	pm := NewPluginManager(t.TempDir(), zap.NewNop())

	enabled := &stubSourcePlugin{info: PluginInfo{Name: "feed-a", Type: SourcePlugin, Enabled: true}}
	disabled := &stubSourcePlugin{info: PluginInfo{Name: "feed-b", Type: SourcePlugin, Enabled: false}}
	registerSourcePlugin(pm, enabled)
	registerSourcePlugin(pm, disabled)

	sources := pm.VulnSources()
	if len(sources) != 1 {
		t.Fatalf("got %d sources, want 1: %v", len(sources), sources)
	}
	if _, ok := sources["feed-a"]; !ok {
		t.Fatalf("enabled source missing: %v", sources)
	}

	infos := pm.GetLoadedPlugins()
	if len(infos) != 2 || infos["feed-b"].Enabled {
		t.Fatalf("loaded plugin metadata: %v", infos)
	}
}

func TestPluginManager_Unload(t *testing.T) {
	pm := NewPluginManager(t.TempDir(), zap.NewNop())

	plugin := &stubSourcePlugin{info: PluginInfo{Name: "feed-a", Type: SourcePlugin, Enabled: true}}
	registerSourcePlugin(pm, plugin)

	if err := pm.UnloadPlugin("feed-a"); err != nil {
		t.Fatalf("UnloadPlugin: %v", err)
	}
	if plugin.shutdowns != 1 {
		t.Fatalf("shutdown called %d times", plugin.shutdowns)
	}
	if len(pm.VulnSources()) != 0 || len(pm.GetLoadedPlugins()) != 0 {
		t.Fatal("plugin still registered after unload")
	}

	if err := pm.UnloadPlugin("feed-a"); err == nil {
		t.Fatal("unloading an unknown plugin succeeded")
	}

	first := &stubSourcePlugin{info: PluginInfo{Name: "feed-b", Type: SourcePlugin, Enabled: true}}
	second := &stubSourcePlugin{info: PluginInfo{Name: "feed-c", Type: SourcePlugin, Enabled: true}}
	registerSourcePlugin(pm, first)
	registerSourcePlugin(pm, second)

	pm.UnloadAllPlugins()
	if first.shutdowns != 1 || second.shutdowns != 1 {
		t.Fatalf("shutdown counts: %d, %d", first.shutdowns, second.shutdowns)
	}
	if len(pm.GetLoadedPlugins()) != 0 {
		t.Fatal("plugins survived UnloadAllPlugins")
	}
}

func TestPluginManager_MissingDirectoryCreated(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "plugins")
	pm := NewPluginManager(dir, zap.NewNop())

	if err := pm.LoadPluginsFromDirectory(DefaultConfig()); err != nil {
		t.Fatalf("LoadPluginsFromDirectory: %v", err)
	}
	if _, err := os.Stat(dir); err != nil {
		t.Fatalf("plugin directory not created: %v", err)
	}
	if len(pm.GetLoadedPlugins()) != 0 {
		t.Fatal("plugins loaded from an empty directory")
	}
}

func TestPluginManager_LoadRejectsMissingFile(t *testing.T) {
	pm := NewPluginManager(t.TempDir(), zap.NewNop())
	_, err := pm.LoadPlugin(filepath.Join(t.TempDir(), "nope.so"), nil)
	if !errors.Is(err, ErrPluginLoad) {
		t.Fatalf("got error %v, want ErrPluginLoad", err)
	}
}

func TestCreateExamplePluginStructure(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "skeleton")
	if err := CreateExamplePluginStructure(dir); err != nil {
		t.Fatalf("CreateExamplePluginStructure: %v", err)
	}

	source, err := os.ReadFile(filepath.Join(dir, "source_example.go"))
	if err != nil {
		t.Fatalf("reading example source: %v", err)
	}
	for _, snippet := range []string{"func New() prospector.Plugin", "Detect(", "Lookup("} {
		if !strings.Contains(string(source), snippet) {
			t.Fatalf("example source missing %q", snippet)
		}
	}

	info, err := os.Stat(filepath.Join(dir, "build_plugin.sh"))
	if err != nil {
		t.Fatalf("stat build script: %v", err)
	}
	if info.Mode().Perm()&0100 == 0 {
		t.Fatalf("build script not executable: %v", info.Mode())
	}
}
