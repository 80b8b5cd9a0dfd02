package prospector

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"plugin"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Plugin errors
var (
	ErrPluginLoad          = errors.New("failed to load plugin")
	ErrPluginSymbol        = errors.New("failed to lookup plugin symbol")
	ErrInvalidPluginType   = errors.New("invalid plugin type")
	ErrPluginInit          = errors.New("failed to initialize plugin")
	ErrPluginDirNotFound   = errors.New("plugin directory not found")
	ErrPluginAlreadyLoaded = errors.New("plugin already loaded")
)

// PluginType defines the type of plugin
type PluginType string

const (
	// SourcePlugin plugins contribute additional vulnerability sources
	SourcePlugin PluginType = "source"
	// ReporterPlugin plugins add new report formats
	ReporterPlugin PluginType = "reporter"
)

// PluginInfo contains metadata about a plugin
type PluginInfo struct {
	Name        string     `json:"name"`
	Version     string     `json:"version"`
	Description string     `json:"description"`
	Author      string     `json:"author"`
	Type        PluginType `json:"type"`
	Enabled     bool       `json:"enabled"`
}

// Plugin is the interface that all plugins must implement
type Plugin interface {
	// Info returns plugin metadata
	Info() PluginInfo
	// Init initializes the plugin with configuration
	Init(config map[string]interface{}, logger *zap.Logger) error
	// Shutdown is called when the plugin is being unloaded
	Shutdown() error
}

// SourcePluginInterface is a plugin that acts as a vulnerability source.
// Loaded sources join the correlation chain alongside the built-in ones.
type SourcePluginInterface interface {
	Plugin
	VulnSource
}

// ReporterPluginInterface adds new report formats
type ReporterPluginInterface interface {
	Plugin
	// GenerateReport creates a report from a completed scan
	GenerateReport(report *ScanReport, outputPath string) error
	// GetReportFormat returns the file extension provided by this plugin
	GetReportFormat() string
}

// PluginManager manages loading and accessing plugins
type PluginManager struct {
	pluginDir     string
	loadedPlugins map[string]Plugin
	sourcePlugins map[string]SourcePluginInterface
	reportPlugins map[string]ReporterPluginInterface
	logger        *zap.Logger
	mu            sync.RWMutex
}

// NewPluginManager creates a new plugin manager
func NewPluginManager(pluginDir string, logger *zap.Logger) *PluginManager {
	return &PluginManager{
		pluginDir:     pluginDir,
		loadedPlugins: make(map[string]Plugin),
		sourcePlugins: make(map[string]SourcePluginInterface),
		reportPlugins: make(map[string]ReporterPluginInterface),
		logger:        logger.With(zap.String("component", "plugin_manager")),
	}
}

// LoadPlugin loads a single plugin by path
func (pm *PluginManager) LoadPlugin(pluginPath string, config map[string]interface{}) (Plugin, error) {
	pm.mu.Lock()
	defer pm.mu.Unlock()
	return pm.loadPluginLocked(pluginPath, config)
}

func (pm *PluginManager) loadPluginLocked(pluginPath string, config map[string]interface{}) (Plugin, error) {
	// Check if plugin is already loaded
	if _, exists := pm.loadedPlugins[pluginPath]; exists {
		return nil, fmt.Errorf("%w: %s", ErrPluginAlreadyLoaded, pluginPath)
	}

	// Load the plugin
	plug, err := plugin.Open(pluginPath)
	if err != nil {
		return nil, fmt.Errorf("%w: %s - %v", ErrPluginLoad, pluginPath, err)
	}

	// Look up the "New" symbol (plugin constructor)
	newSym, err := plug.Lookup("New")
	if err != nil {
		return nil, fmt.Errorf("%w: 'New' not found in %s - %v", ErrPluginSymbol, pluginPath, err)
	}

	// Assert that the symbol is a constructor function
	constructor, ok := newSym.(func() Plugin)
	if !ok {
		return nil, fmt.Errorf("%w: 'New' has wrong type in %s", ErrInvalidPluginType, pluginPath)
	}

	// Create an instance of the plugin
	instance := constructor()
	if instance == nil {
		return nil, fmt.Errorf("%w: plugin constructor returned nil in %s", ErrPluginInit, pluginPath)
	}

	// Initialize the plugin
	if err := instance.Init(config, pm.logger); err != nil {
		return nil, fmt.Errorf("%w: %s - %v", ErrPluginInit, pluginPath, err)
	}

	// Register the plugin by type
	info := instance.Info()
	pluginName := info.Name
	pm.loadedPlugins[pluginName] = instance

	switch info.Type {
	case SourcePlugin:
		if sourcePlugin, ok := instance.(SourcePluginInterface); ok {
			pm.sourcePlugins[pluginName] = sourcePlugin
			pm.logger.Info("Loaded vulnerability source plugin", zap.String("name", pluginName))
		} else {
			return nil, fmt.Errorf("%w: plugin claims to be a source plugin but does not implement the interface", ErrInvalidPluginType)
		}
	case ReporterPlugin:
		if reporterPlugin, ok := instance.(ReporterPluginInterface); ok {
			pm.reportPlugins[pluginName] = reporterPlugin
			pm.logger.Info("Loaded reporter plugin", zap.String("name", pluginName))
		} else {
			return nil, fmt.Errorf("%w: plugin claims to be a reporter plugin but does not implement the interface", ErrInvalidPluginType)
		}
	default:
		pm.logger.Warn("Loaded plugin with unknown type",
			zap.String("name", pluginName),
			zap.String("type", string(info.Type)))
	}

	return instance, nil
}

// LoadPluginsFromDirectory loads all plugins from the configured directory
func (pm *PluginManager) LoadPluginsFromDirectory(config *Config) error {
	pm.mu.Lock()
	defer pm.mu.Unlock()

	// Check if plugin directory exists
	if _, err := os.Stat(pm.pluginDir); os.IsNotExist(err) {
		if err := os.MkdirAll(pm.pluginDir, 0755); err != nil {
			return fmt.Errorf("%w: failed to create plugin directory - %v", ErrPluginDirNotFound, err)
		}
		pm.logger.Info("Created plugin directory", zap.String("dir", pm.pluginDir))
		return nil // No plugins to load yet
	}

	// Get a list of plugin files (.so files on Linux/Mac, .dll on Windows)
	pluginExtension := ".so"
	if os.PathSeparator == '\\' {
		pluginExtension = ".dll"
	}

	var pluginFiles []string
	err := filepath.Walk(pm.pluginDir, func(path string, info fs.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if !info.IsDir() && filepath.Ext(path) == pluginExtension {
			pluginFiles = append(pluginFiles, path)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("error walking plugin directory: %v", err)
	}

	// Load each plugin
	for _, path := range pluginFiles {
		pluginName := filepath.Base(path)
		pluginConfig := make(map[string]interface{})

		// Get plugin specific config if available
		if config.PluginConfigs != nil {
			if cfg, exists := config.PluginConfigs[pluginName]; exists {
				pluginConfig = cfg
			}
		}

		if _, err := pm.loadPluginLocked(path, pluginConfig); err != nil {
			pm.logger.Error("Failed to load plugin",
				zap.String("path", path),
				zap.Error(err))
			// Continue loading other plugins even if one fails
		}
	}

	pm.logger.Info("Loaded plugins",
		zap.Int("total", len(pm.loadedPlugins)),
		zap.Int("sources", len(pm.sourcePlugins)),
		zap.Int("reporters", len(pm.reportPlugins)))

	return nil
}

// GetLoadedPlugins returns a map of all loaded plugins
func (pm *PluginManager) GetLoadedPlugins() map[string]PluginInfo {
	pm.mu.RLock()
	defer pm.mu.RUnlock()

	plugins := make(map[string]PluginInfo)
	for name, p := range pm.loadedPlugins {
		plugins[name] = p.Info()
	}
	return plugins
}

// VulnSources returns the enabled vulnerability sources contributed by
// plugins.
func (pm *PluginManager) VulnSources() map[string]VulnSource {
	pm.mu.RLock()
	defer pm.mu.RUnlock()

	result := make(map[string]VulnSource)
	for name, p := range pm.sourcePlugins {
		if p.Info().Enabled {
			result[name] = p
		}
	}
	return result
}

// GeneratePluginReports generates reports using reporter plugins
func (pm *PluginManager) GeneratePluginReports(report *ScanReport, outputDir string) []string {
	pm.mu.RLock()
	plugins := make([]ReporterPluginInterface, 0, len(pm.reportPlugins))
	for _, p := range pm.reportPlugins {
		plugins = append(plugins, p)
	}
	pm.mu.RUnlock()

	generatedReports := make([]string, 0)

	for _, p := range plugins {
		info := p.Info()
		if !info.Enabled {
			continue
		}

		format := p.GetReportFormat()
		outputPath := filepath.Join(outputDir, fmt.Sprintf("prospector_report_%s.%s", time.Now().Format("20060102_150405"), format))

		if err := p.GenerateReport(report, outputPath); err != nil {
			pm.logger.Warn("Plugin failed to generate report",
				zap.String("plugin", info.Name),
				zap.String("format", format),
				zap.Error(err))
			continue
		}

		generatedReports = append(generatedReports, outputPath)
		pm.logger.Info("Generated plugin report",
			zap.String("plugin", info.Name),
			zap.String("format", format),
			zap.String("path", outputPath))
	}

	return generatedReports
}

// UnloadPlugin unloads a specific plugin
func (pm *PluginManager) UnloadPlugin(name string) error {
	pm.mu.Lock()
	defer pm.mu.Unlock()

	p, exists := pm.loadedPlugins[name]
	if !exists {
		return fmt.Errorf("plugin not found: %s", name)
	}

	// Call shutdown to allow plugin to clean up
	if err := p.Shutdown(); err != nil {
		pm.logger.Warn("Plugin shutdown error",
			zap.String("name", name),
			zap.Error(err))
	}

	switch p.Info().Type {
	case SourcePlugin:
		delete(pm.sourcePlugins, name)
	case ReporterPlugin:
		delete(pm.reportPlugins, name)
	}
	delete(pm.loadedPlugins, name)

	pm.logger.Info("Unloaded plugin", zap.String("name", name))
	return nil
}

// UnloadAllPlugins unloads all plugins
func (pm *PluginManager) UnloadAllPlugins() {
	pm.mu.Lock()
	defer pm.mu.Unlock()

	for name, p := range pm.loadedPlugins {
		if err := p.Shutdown(); err != nil {
			pm.logger.Warn("Plugin shutdown error",
				zap.String("name", name),
				zap.Error(err))
		}
	}

	pm.loadedPlugins = make(map[string]Plugin)
	pm.sourcePlugins = make(map[string]SourcePluginInterface)
	pm.reportPlugins = make(map[string]ReporterPluginInterface)

	pm.logger.Info("Unloaded all plugins")
}

// CreateExamplePluginStructure creates example plugin skeleton files
func CreateExamplePluginStructure(outputDir string) error {
	if err := os.MkdirAll(outputDir, 0755); err != nil {
		return fmt.Errorf("failed to create plugin directory: %v", err)
	}

	sourceExample := filepath.Join(outputDir, "source_example.go")
	sourceCode := `package main

import (
	"context"

	"go.uber.org/zap"

	prospector "ghostshell/app/prospector"
)

// ExampleSourcePlugin contributes findings from a custom advisory feed.
type ExampleSourcePlugin struct {
	info   prospector.PluginInfo
	config map[string]interface{}
	logger *zap.Logger
}

// New creates a new instance of the plugin
func New() prospector.Plugin {
	return &ExampleSourcePlugin{
		info: prospector.PluginInfo{
			Name:        "example_source",
			Version:     "1.0.0",
			Description: "Example vulnerability source plugin",
			Author:      "Your Name",
			Type:        prospector.SourcePlugin,
			Enabled:     true,
		},
	}
}

// Info returns the plugin information
func (p *ExampleSourcePlugin) Info() prospector.PluginInfo {
	return p.info
}

// Init initializes the plugin
func (p *ExampleSourcePlugin) Init(config map[string]interface{}, logger *zap.Logger) error {
	p.config = config
	p.logger = logger.With(zap.String("plugin", p.info.Name))
	return nil
}

// Shutdown is called when the plugin is being unloaded
func (p *ExampleSourcePlugin) Shutdown() error {
	return nil
}

// Name identifies the source in finding records
func (p *ExampleSourcePlugin) Name() string {
	return p.info.Name
}

// Detect reports findings for a fingerprinted service
func (p *ExampleSourcePlugin) Detect(ctx context.Context, fp prospector.ServiceFingerprint, banner string) ([]prospector.VulnerabilityFinding, error) {
	return nil, nil
}

// Lookup fetches the details of a single advisory by ID
func (p *ExampleSourcePlugin) Lookup(ctx context.Context, id string) (*prospector.VulnerabilityFinding, error) {
	return nil, nil
}
`

	if err := os.WriteFile(sourceExample, []byte(sourceCode), 0644); err != nil {
		return fmt.Errorf("failed to write source example: %v", err)
	}

	buildScript := filepath.Join(outputDir, "build_plugin.sh")
	buildScriptCode := `#!/bin/bash
# Example build script for a plugin
go build -buildmode=plugin -o example_source.so source_example.go
`

	if err := os.WriteFile(buildScript, []byte(buildScriptCode), 0755); err != nil {
		return fmt.Errorf("failed to write build script: %v", err)
	}

	return nil
}
