package systems

import (
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/cockroachdb/errors"
	vk "github.com/goki/vulkan"
	"github.com/gogpu/naga"
	"github.com/spaghettifunk/vkcheck/layer/core"
	"github.com/spaghettifunk/vkcheck/layer/spirv"
	"github.com/spaghettifunk/vkcheck/layer/vulkan"
)

/** @brief Configuration for the shader system. */
type ShaderSystemConfig struct {
	/** @brief The maximum number of shaders held in the system at once. */
	MaxShaderCount uint16
}

// Shader is a module that passed vkCreateShaderModule on a device.
type Shader struct {
	Name   string
	Path   string
	Handle vulkan.ShaderModule
	Module *spirv.Module

	device *vulkan.Device
}

// DescriptorSlot is one resource an entry point reaches through a descriptor.
type DescriptorSlot struct {
	Entrypoint string
	Model      spirv.ExecutionModel
	Set        uint32
	Binding    uint32
	Type       string
	Writable   bool
}

// StageFinding is an interface problem between two consecutive pipeline stages.
type StageFinding struct {
	Producer string
	Consumer string
	spirv.Finding
}

type ShaderSystem struct {
	// This system's configuration.
	Config *ShaderSystemConfig
	// A lookup table for shader path->shader
	lookup map[string]*Shader
	// Handles given to the device in place of driver ones.
	handles *core.IDPool
	mutex   sync.Mutex
}

func NewShaderSystem(config *ShaderSystemConfig) (*ShaderSystem, error) {
	if config.MaxShaderCount == 0 {
		err := errors.New("NewShaderSystem - config.MaxShaderCount must be greater than 0")
		core.LogError("%s", err)
		return nil, err
	}
	return &ShaderSystem{
		Config:  config,
		lookup:  make(map[string]*Shader),
		handles: core.NewIDPool(1),
	}, nil
}

/**
 * @brief Reads a shader from disk. SPIR-V binaries are returned as they are, WGSL sources
 * are compiled to SPIR-V first.
 * @param path The file to read.
 * @returns the SPIR-V words as little-endian bytes.
 */
func LoadShaderFile(path string) ([]byte, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".spv":
		return os.ReadFile(path)
	case ".wgsl":
		src, err := os.ReadFile(path)
		if err != nil {
			return nil, err
		}
		code, err := naga.Compile(string(src))
		if err != nil {
			return nil, errors.Wrapf(err, "compiling %s", path)
		}
		return code, nil
	}
	return nil, errors.Wrapf(core.ErrUnknownExtension, "%s", path)
}

/**
 * @brief Loads the shader at path and creates a shader module from it on the device.
 * Diagnostics go to the device's reporter.
 * @returns the shader, or an error wrapping core.ErrInvalidBytecode when the device
 * rejected the module.
 */
func (ss *ShaderSystem) Acquire(device *vulkan.Device, path string) (*Shader, error) {
	ss.mutex.Lock()
	if s, ok := ss.lookup[path]; ok {
		ss.mutex.Unlock()
		return s, nil
	}
	if len(ss.lookup) >= int(ss.Config.MaxShaderCount) {
		ss.mutex.Unlock()
		return nil, errors.Newf("shader system is full (%d shaders), cannot load %s", ss.Config.MaxShaderCount, path)
	}
	ss.mutex.Unlock()

	code, err := LoadShaderFile(path)
	if err != nil {
		return nil, err
	}

	handle := vulkan.ShaderModule(ss.handles.Acquire(path))
	res := vulkan.Intercept(
		func() bool { return device.ValidateCreateShaderModule(code) },
		func() vk.Result { return vk.Success },
		func(r vk.Result) { device.RecordCreateShaderModule(r, handle, code) })
	if res != vk.Success {
		if err := ss.handles.Release(uint64(handle)); err != nil {
			core.LogWarn("%s", err)
		}
		return nil, errors.Wrapf(core.ErrInvalidBytecode, "%s", path)
	}

	s := &Shader{
		Name:   strings.TrimSuffix(filepath.Base(path), filepath.Ext(path)),
		Path:   path,
		Handle: handle,
		Module: spirv.ParseBytes(code),
		device: device,
	}

	ss.mutex.Lock()
	ss.lookup[path] = s
	ss.mutex.Unlock()

	core.Logger("shader", s.Name, "entrypoints", len(s.Module.Entrypoints())).Debug("shader loaded")
	return s, nil
}

func (ss *ShaderSystem) Get(path string) (*Shader, bool) {
	ss.mutex.Lock()
	defer ss.mutex.Unlock()
	s, ok := ss.lookup[path]
	return s, ok
}

// Release destroys the shader module on the device it was created on.
func (ss *ShaderSystem) Release(path string) error {
	ss.mutex.Lock()
	s, ok := ss.lookup[path]
	delete(ss.lookup, path)
	ss.mutex.Unlock()
	if !ok {
		return errors.Newf("shader %s is not loaded", path)
	}

	s.device.RecordDestroyShaderModule(s.Handle)
	return ss.handles.Release(uint64(s.Handle))
}

/**
 * @brief Shuts down the shader system, destroying every shader still loaded.
 */
func (ss *ShaderSystem) Shutdown() error {
	ss.mutex.Lock()
	paths := make([]string, 0, len(ss.lookup))
	for p := range ss.lookup {
		paths = append(paths, p)
	}
	ss.mutex.Unlock()

	var err error
	for _, p := range paths {
		err = errors.CombineErrors(err, ss.Release(p))
	}
	return err
}

// DescriptorSlots lists the resources each entry point statically uses, by entry point
// then (set, binding).
func (s *Shader) DescriptorSlots() []DescriptorSlot {
	var out []DescriptorSlot
	eps := s.Module.Entrypoints()
	for i := range eps {
		ep := &eps[i]
		for _, use := range s.Module.CollectInterfaceByDescriptorSlot(s.Module.MarkAccessibleIDs(ep)) {
			out = append(out, DescriptorSlot{
				Entrypoint: ep.Name,
				Model:      ep.Model,
				Set:        use.Set,
				Binding:    use.Binding,
				Type:       s.Module.DescribeType(use.Var.TypeID),
				Writable:   use.Writable,
			})
		}
	}
	return out
}

type stageRef struct {
	shader *Shader
	ep     *spirv.Entrypoint
}

func (r stageRef) String() string {
	return r.shader.Name + ":" + r.ep.Name
}

/**
 * @brief Orders the graphics entry points of the given shaders by pipeline stage and
 * matches the interface of every consecutive pair.
 * @returns the findings in stage order. Compute and kernel entry points are ignored.
 */
func LinkStages(shaders ...*Shader) []StageFinding {
	var stages []stageRef
	for _, s := range shaders {
		eps := s.Module.Entrypoints()
		for i := range eps {
			if eps[i].Model > spirv.ExecutionModelFragment {
				continue
			}
			stages = append(stages, stageRef{shader: s, ep: &eps[i]})
		}
	}
	sort.SliceStable(stages, func(i, j int) bool { return stages[i].ep.Model < stages[j].ep.Model })

	var out []StageFinding
	for i := 1; i < len(stages); i++ {
		prod, cons := stages[i-1], stages[i]
		if prod.ep.Model == cons.ep.Model {
			continue
		}
		for _, f := range spirv.ValidateInterfaceBetweenStages(
			prod.shader.Module, prod.ep, spirv.StageInfoFor(prod.ep.Model),
			cons.shader.Module, cons.ep, spirv.StageInfoFor(cons.ep.Model)) {
			out = append(out, StageFinding{Producer: prod.String(), Consumer: cons.String(), Finding: f})
		}
	}
	return out
}
