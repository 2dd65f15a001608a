package vulkan

import (
	"errors"
	"fmt"
	"math"
	"runtime"
	"unsafe"

	"github.com/go-gl/glfw/v3.3/glfw"
	vk "github.com/goki/vulkan"
	"golang.org/x/exp/slices"

	"github.com/spectraldrift/aurora/engine/config"
	"github.com/spectraldrift/aurora/engine/core"
	"github.com/spectraldrift/aurora/engine/platform"
)

// Staging capacity for the one-shot builtin texture upload at init.
const builtinStagingSize = 64 * 1024

/**
 * VulkanRenderer owns the device, the frame ring and every subsystem built on
 * top of them, and drives the per-frame protocol:
 *
 *   Acquire -> CollectCompleted -> acquire image -> record -> Submit -> Present
 *
 * Acquire is the only place the CPU ever blocks on the GPU. Everything the
 * frame records draws its transient memory from the acquired slot's rings.
 */
type VulkanRenderer struct {
	platform    *platform.Platform
	cfg         *config.RendererConfig
	FrameNumber uint64
	context     *VulkanContext

	cachedFramebufferWidth  uint32
	cachedFramebufferHeight uint32

	frames []*VulkanFrame
	ring   *FrameRing

	targets     *VulkanRenderTargets
	session     *RenderSession
	descriptors *DescriptorManager
	samplers    *SamplerCache
	slots       *SlotTable
	textures    *TextureManager
	buffers     *BufferManager
	shaders     *ShaderLibrary
	pipelines   *PipelineCache

	loader TextureLoader

	// Dirty bindless slots not yet written to each frame slot's set. A slot
	// change must reach every frame's table, but only when that frame is
	// recording, so the change is fanned out here and consumed per slot.
	frameDirty []map[uint32]struct{}

	activeFrame *VulkanFrame

	// Current dynamic viewport and scissor, applied in full on every draw.
	viewport vk.Viewport
	scissor  vk.Rect2D

	debug bool
}

func New(p *platform.Platform, cfg *config.RendererConfig, loader TextureLoader) *VulkanRenderer {
	return &VulkanRenderer{
		platform: p,
		cfg:      cfg,
		loader:   loader,
		context: &VulkanContext{
			FramebufferWidth:  0,
			FramebufferHeight: 0,
			Allocator:         nil,
		},
		debug: cfg.EnableValidation,
	}
}

func (vr *VulkanRenderer) Initialize() error {
	procAddr := glfw.GetVulkanGetInstanceProcAddress()
	if procAddr == nil {
		core.LogFatal("GetInstanceProcAddress is nil")
		return fmt.Errorf("GetInstanceProcAddress is nil")
	}
	vk.SetGetInstanceProcAddr(procAddr)

	if err := vk.Init(); err != nil {
		core.LogFatal("failed to initialize vk: %s", err)
		return err
	}

	vr.context.FramebufferWidth = vr.cfg.Width
	vr.context.FramebufferHeight = vr.cfg.Height

	if err := vr.createInstance(); err != nil {
		return err
	}

	core.LogDebug("Creating Vulkan surface...")
	surface, err := vr.platform.Window.CreateWindowSurface(vr.context.Instance, nil)
	if err != nil {
		core.LogError("Vulkan surface creation failed.")
		return err
	}
	vr.context.Surface = vk.SurfaceFromPointer(surface)
	core.LogDebug("Vulkan surface created.")

	if err := DeviceCreate(vr.context); err != nil {
		core.LogError("Failed to create device!")
		return err
	}

	sc, err := SwapchainCreate(vr.context, vr.context.FramebufferWidth, vr.context.FramebufferHeight)
	if err != nil {
		return err
	}
	vr.context.Swapchain = sc

	vr.targets, err = NewVulkanRenderTargets(vr.context)
	if err != nil {
		return err
	}
	vr.session = NewRenderSession(vr.targets, vr.targets.Main, vr.targets.Lighting, vr.targets.GBuffer)

	ringCfg := FrameRingConfig{
		UniformRingSize: vr.cfg.UniformRingSize,
		VertexRingSize:  vr.cfg.VertexRingSize,
		StagingRingSize: vr.cfg.StagingRingSize,
	}
	vr.frames = make([]*VulkanFrame, vr.cfg.FramesInFlight)
	for i := range vr.frames {
		frame, err := NewVulkanFrame(vr.context, vr.context.Device.GraphicsCommandPool, i, ringCfg)
		if err != nil {
			return err
		}
		vr.frames[i] = frame
	}
	vr.ring = NewFrameRing(vr.frames)

	slotCount := vr.cfg.BindlessSlotCount
	if max := vr.context.Device.MaxSamplerDescriptorCount(); slotCount > max {
		core.LogWarn("Bindless slot count %d exceeds device limit %d, clamping.", slotCount, max)
		slotCount = max
	}
	vr.slots = NewSlotTable(slotCount)
	vr.frameDirty = make([]map[uint32]struct{}, len(vr.frames))
	for i := range vr.frameDirty {
		vr.frameDirty[i] = make(map[uint32]struct{})
	}

	vr.descriptors, err = NewDescriptorManager(vr.context, vr.frames, slotCount)
	if err != nil {
		return err
	}

	vr.samplers = NewSamplerCache(vr.context)
	uploader := newVulkanTextureUploader(vr.context, vr.samplers)
	vr.textures = NewTextureManager(uploader, vr.slots, vr.ring.Serials(), vr.ring.Deferred(), vr.loader, vr.cfg.StagingRingSize)
	if err := vr.uploadBuiltinTextures(); err != nil {
		return err
	}

	for i := range vr.frames {
		vr.descriptors.WriteBindlessAll(i, vr.textures)
	}

	vr.buffers = NewBufferManager(newVulkanBufferBackend(vr.context), vr.ring.Serials(), vr.ring.Deferred())

	vr.shaders = NewShaderLibrary(vr.context, vr.cfg.ShaderDir, func(release func()) {
		vr.ring.Deferred().Enqueue(vr.ring.Serials().PendingSerial(), release)
	})
	if vr.cfg.ShaderHotReload {
		if err := vr.shaders.EnableHotReload(); err != nil {
			core.LogWarn("Shader hot reload unavailable: %v", err)
		}
	}

	compile := NewVulkanPipelineCompiler(vr.context, vr.descriptors.Layouts(), func(contract TargetContract) (*VulkanRenderPass, error) {
		// The load variant; render pass compatibility ignores load ops, so
		// pipelines built against it serve the clear variant too.
		return vr.targets.ensurePass(contract, false)
	})
	vr.pipelines = NewPipelineCache(compile)

	vr.platform.OnResize = vr.OnResize

	core.LogInfo("Vulkan renderer initialized (%d frames in flight, %d bindless slots).",
		len(vr.frames), slotCount)
	return nil
}

func (vr *VulkanRenderer) createInstance() error {
	appInfo := &vk.ApplicationInfo{
		SType:              vk.StructureTypeApplicationInfo,
		ApiVersion:         uint32(vk.MakeVersion(1, 0, 0)),
		ApplicationVersion: uint32(vk.MakeVersion(1, 0, 0)),
		PApplicationName:   VulkanSafeString(vr.cfg.AppName),
		PEngineName:        VulkanSafeString("Aurora Engine"),
	}

	createInfo := vk.InstanceCreateInfo{
		SType:            vk.StructureTypeInstanceCreateInfo,
		PApplicationInfo: appInfo,
	}

	requiredExtensions := []string{"VK_KHR_surface"}
	requiredExtensions = append(requiredExtensions, vr.platform.GetRequiredExtensionNames()...)
	if runtime.GOOS == "darwin" {
		requiredExtensions = append(requiredExtensions,
			"VK_KHR_portability_enumeration",
			"VK_KHR_get_physical_device_properties2",
		)
	}
	if vr.debug {
		requiredExtensions = append(requiredExtensions, vk.ExtDebugUtilsExtensionName, vk.ExtDebugReportExtensionName)
	}
	createInfo.EnabledExtensionCount = uint32(len(requiredExtensions))
	createInfo.PpEnabledExtensionNames = VulkanSafeStrings(requiredExtensions)

	requiredLayers := []string{}
	if vr.debug {
		requiredLayers = []string{"VK_LAYER_KHRONOS_validation"}
		if runtime.GOOS == "darwin" {
			createInfo.Flags |= 1
		}
		if err := verifyValidationLayers(requiredLayers); err != nil {
			return err
		}
	}
	createInfo.EnabledLayerCount = uint32(len(requiredLayers))
	createInfo.PpEnabledLayerNames = VulkanSafeStrings(requiredLayers)

	if res := vk.CreateInstance(&createInfo, vr.context.Allocator, &vr.context.Instance); res != vk.Success {
		err := fmt.Errorf("failed in creating the Vulkan Instance with error `%s`", VulkanResultString(res))
		core.LogError(err.Error())
		return err
	}
	if err := vk.InitInstance(vr.context.Instance); err != nil {
		core.LogError(err.Error())
		return err
	}
	core.LogInfo("Vulkan Instance created.")

	if vr.debug {
		debugCreateInfo := vk.DebugReportCallbackCreateInfo{
			SType:       vk.StructureTypeDebugReportCallbackCreateInfo,
			Flags:       vk.DebugReportFlags(vk.DebugReportErrorBit | vk.DebugReportWarningBit),
			PfnCallback: dbgCallbackFunc,
		}
		var dbg vk.DebugReportCallback
		if err := vk.Error(vk.CreateDebugReportCallback(vr.context.Instance, &debugCreateInfo, nil, &dbg)); err != nil {
			core.LogError("vk.CreateDebugReportCallback failed with %s", err)
			return err
		}
		vr.context.debugMessenger = dbg
		core.LogDebug("Vulkan debugger created.")
	}
	return nil
}

func verifyValidationLayers(required []string) error {
	var availableCount uint32
	if res := vk.EnumerateInstanceLayerProperties(&availableCount, nil); res != vk.Success {
		return vkError("failed to enumerate instance layers", res)
	}
	available := make([]vk.LayerProperties, availableCount)
	if res := vk.EnumerateInstanceLayerProperties(&availableCount, available); res != vk.Success {
		return vkError("failed to enumerate instance layers", res)
	}

	for _, name := range required {
		found := false
		for j := range available {
			available[j].Deref()
			end := FindFirstZeroInByteArray(available[j].LayerName[:])
			if name == vk.ToString(available[j].LayerName[:end+1]) {
				found = true
				break
			}
		}
		if !found {
			err := fmt.Errorf("required validation layer is missing: %s", name)
			core.LogError(err.Error())
			return err
		}
	}
	return nil
}

// uploadBuiltinTextures records a single-use command buffer against a
// temporary staging ring and waits for it, so after init the builtin slots
// are resident before any frame records.
func (vr *VulkanRenderer) uploadBuiltinTextures() error {
	staging, err := NewDeviceRingBuffer(vr.context, "builtin-staging", builtinStagingSize,
		vk.BufferUsageFlags(vk.BufferUsageTransferSrcBit))
	if err != nil {
		return err
	}
	defer staging.Destroy(vr.context)

	cb, err := AllocateAndBeginSingleUse(vr.context, vr.context.Device.GraphicsCommandPool)
	if err != nil {
		return err
	}
	if err := vr.textures.CreateBuiltins(cb, staging); err != nil {
		return err
	}
	return cb.EndSingleUse(vr.context, vr.context.Device.GraphicsCommandPool, vr.context.Device.GraphicsQueue)
}

// OnResize is invoked from the platform's framebuffer callback. It only
// caches the extent and bumps the generation; the actual recreate happens at
// the next frame boundary.
func (vr *VulkanRenderer) OnResize(width, height uint32) {
	vr.cachedFramebufferWidth = width
	vr.cachedFramebufferHeight = height
	vr.context.FramebufferSizeGeneration++
}

func (vr *VulkanRenderer) Session() *RenderSession        { return vr.session }
func (vr *VulkanRenderer) Targets() *VulkanRenderTargets  { return vr.targets }
func (vr *VulkanRenderer) Textures() *TextureManager      { return vr.textures }
func (vr *VulkanRenderer) Buffers() *BufferManager        { return vr.buffers }
func (vr *VulkanRenderer) Shaders() *ShaderLibrary        { return vr.shaders }
func (vr *VulkanRenderer) Pipelines() *PipelineCache      { return vr.pipelines }
func (vr *VulkanRenderer) Descriptors() *DescriptorManager { return vr.descriptors }
func (vr *VulkanRenderer) Device() *VulkanDevice          { return vr.context.Device }

/**
 * BeginFrame runs the frame-start protocol and returns the recording token.
 * A core.ErrSwapchainOutOfDate return means the frame is skipped, not failed;
 * the caller simply tries again next tick.
 */
func (vr *VulkanRenderer) BeginFrame() (FrameCtx, error) {
	core.Assert(vr.activeFrame == nil, "BeginFrame called while a frame is already recording")

	if vr.context.FramebufferSizeGeneration != vr.context.FramebufferSizeLastGeneration {
		if err := vr.recreateSwapchain(); err != nil {
			return FrameCtx{}, err
		}
		return FrameCtx{}, core.ErrSwapchainOutOfDate
	}

	if err := vr.ring.CollectCompleted(); err != nil {
		return FrameCtx{}, err
	}
	if vr.shaders != nil {
		vr.shaders.ApplyReloads()
	}
	vr.textures.AssignPendingSlots()

	frame, err := vr.ring.Acquire()
	if err != nil {
		return FrameCtx{}, err
	}

	imageIndex, err := vr.context.Swapchain.SwapchainAcquireNextImageIndex(
		vr.context, math.MaxUint64, frame.ImageAvailable, nil)
	if err != nil {
		if errors.Is(err, core.ErrSwapchainOutOfDate) {
			// The slot was never submitted; hand it straight back.
			vr.ring.available.Enqueue(frame)
			if rerr := vr.recreateSwapchain(); rerr != nil {
				return FrameCtx{}, rerr
			}
		}
		return FrameCtx{}, err
	}

	vr.ring.BeginRecording(frame, imageIndex)

	frame.CommandBuffer.Reset()
	if err := frame.CommandBuffer.Begin(false, false, false); err != nil {
		return FrameCtx{}, err
	}
	vr.targets.BindFrame(frame.CommandBuffer, imageIndex)

	vr.activeFrame = frame
	ctx := newFrameCtx(frame)

	// Upload phase: no pass is open yet, so transfers are legal.
	if err := vr.textures.FlushPendingUploads(newUploadCtx(frame)); err != nil {
		return FrameCtx{}, err
	}

	// Rewrite sampler table entries that changed since this slot last
	// recorded. The set belongs to this frame alone, so the write cannot
	// race an in-flight submission.
	for _, slot := range vr.slots.DrainDirty() {
		for i := range vr.frameDirty {
			vr.frameDirty[i][slot] = struct{}{}
		}
	}
	pending := vr.frameDirty[frame.Index]
	if len(pending) > 0 {
		slots := make([]uint32, 0, len(pending))
		for slot := range pending {
			slots = append(slots, slot)
		}
		slices.Sort(slots)
		vr.descriptors.WriteBindlessSlots(frame.Index, vr.textures, slots)
		vr.frameDirty[frame.Index] = make(map[uint32]struct{})
	}

	return ctx, nil
}

/**
 * BeginRendering opens (or resumes) the session's current target and returns
 * the render token carrying the active contract for pipeline lookups.
 */
func (vr *VulkanRenderer) BeginRendering(ctx FrameCtx) (RenderCtx, error) {
	contract, err := vr.session.EnsureRenderingActive()
	if err != nil {
		return RenderCtx{}, err
	}
	return newRenderCtx(ctx, contract), nil
}

// Uploads suspends any open pass and returns the transfer token.
func (vr *VulkanRenderer) Uploads(ctx FrameCtx) UploadCtx {
	vr.session.SuspendRendering()
	return newUploadCtx(ctx.Frame())
}

/**
 * EndFrame closes recording, submits and presents. An out-of-date present
 * marks the surface for recreation and is not an error; the submitted work
 * still ran.
 */
func (vr *VulkanRenderer) EndFrame(ctx FrameCtx) error {
	frame := ctx.Frame()
	core.Assert(frame == vr.activeFrame, "EndFrame called with a stale frame token")
	vr.activeFrame = nil

	vr.session.SuspendRendering()
	vr.targets.PreparePresent()

	if err := frame.CommandBuffer.End(); err != nil {
		return err
	}

	fence, ok := frame.fence.(*VulkanFence)
	core.Assert(ok, "production frames carry a VulkanFence")
	if err := fence.Reset(); err != nil {
		return err
	}

	submitInfo := vk.SubmitInfo{
		SType:                vk.StructureTypeSubmitInfo,
		WaitSemaphoreCount:   1,
		PWaitSemaphores:      []vk.Semaphore{frame.ImageAvailable},
		PWaitDstStageMask:    []vk.PipelineStageFlags{vk.PipelineStageFlags(vk.PipelineStageColorAttachmentOutputBit)},
		CommandBufferCount:   1,
		PCommandBuffers:      []vk.CommandBuffer{frame.CommandBuffer.Handle},
		SignalSemaphoreCount: 1,
		PSignalSemaphores:    []vk.Semaphore{frame.RenderComplete},
	}
	if res := vk.QueueSubmit(vr.context.Device.GraphicsQueue, 1, []vk.SubmitInfo{submitInfo}, fence.Handle); res != vk.Success {
		return vkError("vkQueueSubmit failed", res)
	}
	frame.CommandBuffer.UpdateSubmitted()
	vr.ring.Submit(frame)

	err := vr.context.Swapchain.SwapchainPresent(
		vr.context.Device.PresentQueue, frame.RenderComplete, frame.ImageIndex)
	if errors.Is(err, core.ErrSwapchainOutOfDate) {
		vr.context.FramebufferSizeGeneration++
		err = nil
	}
	if err != nil {
		return err
	}

	vr.FrameNumber++
	return nil
}

/**
 * recreateSwapchain rebuilds the swapchain and every extent-dependent
 * resource. The GPU is drained first, so destruction here needs no serial
 * gating.
 */
func (vr *VulkanRenderer) recreateSwapchain() error {
	if vr.context.RecreatingSwapchain {
		return nil
	}

	width := vr.cachedFramebufferWidth
	height := vr.cachedFramebufferHeight
	if width == 0 || height == 0 {
		// Minimized. Stay out-of-date until the surface has area again.
		return nil
	}
	vr.context.RecreatingSwapchain = true
	defer func() { vr.context.RecreatingSwapchain = false }()

	if err := vr.ring.WaitIdle(); err != nil {
		return err
	}
	vk.DeviceWaitIdle(vr.context.Device.LogicalDevice)

	sc, err := vr.context.Swapchain.SwapchainRecreate(vr.context, width, height)
	if err != nil {
		return err
	}
	vr.context.Swapchain = sc
	vr.context.FramebufferWidth = width
	vr.context.FramebufferHeight = height
	vr.context.FramebufferSizeLastGeneration = vr.context.FramebufferSizeGeneration

	if err := vr.targets.Resize(); err != nil {
		return err
	}
	vr.session.Reconfigure(vr.targets.Main, vr.targets.Lighting, vr.targets.GBuffer)

	core.LogInfo("Swapchain recreated at %dx%d.", width, height)
	return nil
}

func (vr *VulkanRenderer) Shutdown() {
	if vr.context == nil || vr.context.Device == nil {
		return
	}

	if vr.ring != nil {
		if err := vr.ring.WaitIdle(); err != nil {
			core.LogError("wait idle during shutdown: %v", err)
		}
	}
	vk.DeviceWaitIdle(vr.context.Device.LogicalDevice)

	if vr.shaders != nil {
		vr.shaders.Shutdown()
	}
	if vr.pipelines != nil {
		vr.pipelines.Destroy(vr.context)
	}
	if vr.buffers != nil {
		vr.buffers.Shutdown()
	}
	if vr.textures != nil {
		vr.textures.Shutdown()
	}
	if vr.ring != nil {
		// Everything still pending is safe to release after the device idled.
		vr.ring.Deferred().Clear()
	}
	if vr.descriptors != nil {
		vr.descriptors.Destroy()
	}
	if vr.samplers != nil {
		vr.samplers.Destroy()
	}
	for _, frame := range vr.frames {
		frame.Destroy(vr.context, vr.context.Device.GraphicsCommandPool)
	}
	vr.frames = nil
	if vr.targets != nil {
		vr.targets.Destroy()
	}
	if vr.context.Swapchain != nil {
		vr.context.Swapchain.SwapchainDestroy(vr.context)
		vr.context.Swapchain = nil
	}
	DeviceDestroy(vr.context)
	if vr.context.Surface != vk.NullSurface {
		vk.DestroySurface(vr.context.Instance, vr.context.Surface, vr.context.Allocator)
		vr.context.Surface = vk.NullSurface
	}
	if vr.context.debugMessenger != vk.NullDebugReportCallback {
		vk.DestroyDebugReportCallback(vr.context.Instance, vr.context.debugMessenger, nil)
		vr.context.debugMessenger = vk.NullDebugReportCallback
	}
	if vr.context.Instance != nil {
		vk.DestroyInstance(vr.context.Instance, vr.context.Allocator)
		vr.context.Instance = nil
	}
	core.LogInfo("Vulkan renderer shut down.")
}

func dbgCallbackFunc(flags vk.DebugReportFlags, objectType vk.DebugReportObjectType, object uint64, location uint64, messageCode int32, pLayerPrefix string, pMessage string, pUserData unsafe.Pointer) vk.Bool32 {
	switch {
	case flags&vk.DebugReportFlags(vk.DebugReportErrorBit) != 0:
		core.LogError("ERROR: [%s] Code %d : %s", pLayerPrefix, messageCode, pMessage)
	case flags&vk.DebugReportFlags(vk.DebugReportWarningBit) != 0:
		core.LogWarn("WARNING: [%s] Code %d : %s", pLayerPrefix, messageCode, pMessage)
	case flags&vk.DebugReportFlags(vk.DebugReportPerformanceWarningBit) != 0:
		core.LogWarn("PERFORMANCE WARNING: [%s] Code %d : %s", pLayerPrefix, messageCode, pMessage)
	default:
		core.LogInfo("INFORMATION: [%s] Code %d : %s", pLayerPrefix, messageCode, pMessage)
	}
	return vk.Bool32(vk.False)
}
