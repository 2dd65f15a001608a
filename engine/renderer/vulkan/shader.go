package vulkan

import (
	"encoding/binary"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"
	vk "github.com/goki/vulkan"

	"github.com/spectraldrift/aurora/engine/core"
)

/**
 * @brief Loads compiled SPIR-V pairs from the shader directory and hands out
 * ShaderModules values for pipeline keys.
 *
 * A shader "name" maps to <dir>/<name>.vert.spv and <dir>/<name>.frag.spv.
 * Hot reload swaps the modules and the content hash in place; the pipeline
 * cache then compiles fresh pipelines on the next lookup because the key
 * changed. Old modules are destroyed behind the pending completion serial.
 */
type ShaderLibrary struct {
	context *VulkanContext
	dir     string

	// deferRelease schedules destruction once every in-flight frame that may
	// reference the old modules has completed.
	deferRelease func(release func())

	mu      sync.Mutex
	shaders map[string]*ShaderModules
	dirty   map[string]struct{}

	watcher *fsnotify.Watcher
	done    chan struct{}
}

func NewShaderLibrary(context *VulkanContext, dir string, deferRelease func(release func())) *ShaderLibrary {
	core.Assert(deferRelease != nil, "shader library requires a deferred release hook")
	return &ShaderLibrary{
		context:      context,
		dir:          dir,
		deferRelease: deferRelease,
		shaders:      make(map[string]*ShaderModules),
		dirty:        make(map[string]struct{}),
	}
}

// Load reads and compiles the named shader pair. Loading a name twice
// replaces the previous modules immediately; only call before any frame has
// referenced them.
func (sl *ShaderLibrary) Load(name string, kind ShaderKind) (ShaderModules, error) {
	modules, err := sl.createModules(name, kind)
	if err != nil {
		return ShaderModules{}, err
	}
	sl.mu.Lock()
	sl.shaders[name] = &modules
	sl.mu.Unlock()
	core.LogInfo("Shader '%s' loaded (hash %016x).", name, modules.ContentHash)
	return modules, nil
}

// Get returns the current modules for a loaded shader. The value is a
// snapshot; after a reload the caller sees the new hash on its next Get.
func (sl *ShaderLibrary) Get(name string) (ShaderModules, bool) {
	sl.mu.Lock()
	defer sl.mu.Unlock()
	modules, ok := sl.shaders[name]
	if !ok {
		return ShaderModules{}, false
	}
	return *modules, true
}

func (sl *ShaderLibrary) createModules(name string, kind ShaderKind) (ShaderModules, error) {
	vertBytes, err := os.ReadFile(filepath.Join(sl.dir, name+".vert.spv"))
	if err != nil {
		return ShaderModules{}, fmt.Errorf("reading vertex shader '%s': %w", name, err)
	}
	fragBytes, err := os.ReadFile(filepath.Join(sl.dir, name+".frag.spv"))
	if err != nil {
		return ShaderModules{}, fmt.Errorf("reading fragment shader '%s': %w", name, err)
	}

	vertModule, err := sl.compileModule(name+".vert", vertBytes)
	if err != nil {
		return ShaderModules{}, err
	}
	fragModule, err := sl.compileModule(name+".frag", fragBytes)
	if err != nil {
		vk.DestroyShaderModule(sl.context.Device.LogicalDevice, vertModule, sl.context.Allocator)
		return ShaderModules{}, err
	}

	return ShaderModules{
		Name:        name,
		Kind:        kind,
		Vertex:      vertModule,
		Fragment:    fragModule,
		ContentHash: HashShaderContent(vertBytes, fragBytes),
	}, nil
}

func (sl *ShaderLibrary) compileModule(label string, spirv []byte) (vk.ShaderModule, error) {
	words, err := spirvWords(spirv)
	if err != nil {
		return nil, fmt.Errorf("shader '%s': %w", label, err)
	}
	createInfo := vk.ShaderModuleCreateInfo{
		SType:    vk.StructureTypeShaderModuleCreateInfo,
		CodeSize: uint64(len(spirv)),
		PCode:    words,
	}
	var module vk.ShaderModule
	if res := vk.CreateShaderModule(sl.context.Device.LogicalDevice, &createInfo, sl.context.Allocator, &module); !VulkanResultIsSuccess(res) {
		return nil, vkError(fmt.Sprintf("failed to create shader module '%s'", label), res)
	}
	return module, nil
}

func spirvWords(data []byte) ([]uint32, error) {
	if len(data) == 0 || len(data)%4 != 0 {
		return nil, fmt.Errorf("SPIR-V payload is %d bytes, not a multiple of 4", len(data))
	}
	words := make([]uint32, len(data)/4)
	for i := range words {
		words[i] = binary.LittleEndian.Uint32(data[i*4:])
	}
	return words, nil
}

/**
 * EnableHotReload watches the shader directory and marks shaders dirty when
 * their SPIR-V files change. Reloads happen on ApplyReloads, never from the
 * watcher goroutine.
 */
func (sl *ShaderLibrary) EnableHotReload() error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("creating shader watcher: %w", err)
	}
	if err := watcher.Add(sl.dir); err != nil {
		watcher.Close()
		return fmt.Errorf("watching shader directory '%s': %w", sl.dir, err)
	}
	sl.watcher = watcher
	sl.done = make(chan struct{})

	go func() {
		for {
			select {
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
					continue
				}
				name, ok := shaderNameFromPath(event.Name)
				if !ok {
					continue
				}
				sl.mu.Lock()
				if _, loaded := sl.shaders[name]; loaded {
					sl.dirty[name] = struct{}{}
				}
				sl.mu.Unlock()
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				core.LogWarn("Shader watcher error: %v", err)
			case <-sl.done:
				return
			}
		}
	}()

	core.LogInfo("Shader hot reload watching '%s'.", sl.dir)
	return nil
}

func shaderNameFromPath(path string) (string, bool) {
	base := filepath.Base(path)
	for _, suffix := range []string{".vert.spv", ".frag.spv"} {
		if strings.HasSuffix(base, suffix) {
			return strings.TrimSuffix(base, suffix), true
		}
	}
	return "", false
}

/**
 * ApplyReloads re-reads every dirty shader at a frame boundary. A failed
 * reload keeps the old modules in service and logs the error; the dirty mark
 * is consumed either way, so a broken file stops being retried until it
 * changes again.
 */
func (sl *ShaderLibrary) ApplyReloads() {
	sl.mu.Lock()
	names := make([]string, 0, len(sl.dirty))
	for name := range sl.dirty {
		names = append(names, name)
	}
	sl.dirty = make(map[string]struct{})
	sl.mu.Unlock()

	for _, name := range names {
		sl.mu.Lock()
		entry, ok := sl.shaders[name]
		sl.mu.Unlock()
		if !ok {
			continue
		}

		modules, err := sl.createModules(name, entry.Kind)
		if err != nil {
			core.LogWarn("Shader '%s' reload failed, keeping previous modules: %v", name, err)
			continue
		}
		if modules.ContentHash == entry.ContentHash {
			// Touched but unchanged. Destroy the duplicates immediately;
			// nothing references them yet.
			vk.DestroyShaderModule(sl.context.Device.LogicalDevice, modules.Vertex, sl.context.Allocator)
			vk.DestroyShaderModule(sl.context.Device.LogicalDevice, modules.Fragment, sl.context.Allocator)
			continue
		}

		oldVert, oldFrag := entry.Vertex, entry.Fragment
		device := sl.context.Device.LogicalDevice
		allocator := sl.context.Allocator
		sl.deferRelease(func() {
			vk.DestroyShaderModule(device, oldVert, allocator)
			vk.DestroyShaderModule(device, oldFrag, allocator)
		})

		sl.mu.Lock()
		sl.shaders[name] = &modules
		sl.mu.Unlock()
		core.LogInfo("Shader '%s' reloaded (hash %016x).", name, modules.ContentHash)
	}
}

func (sl *ShaderLibrary) Shutdown() {
	if sl.watcher != nil {
		close(sl.done)
		sl.watcher.Close()
		sl.watcher = nil
	}
	sl.mu.Lock()
	defer sl.mu.Unlock()
	for name, entry := range sl.shaders {
		vk.DestroyShaderModule(sl.context.Device.LogicalDevice, entry.Vertex, sl.context.Allocator)
		vk.DestroyShaderModule(sl.context.Device.LogicalDevice, entry.Fragment, sl.context.Allocator)
		delete(sl.shaders, name)
	}
}
