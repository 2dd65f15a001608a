package vulkan

import (
	"github.com/spectraldrift/aurora/engine/core"
)

/**
 * RenderSession is the only component allowed to begin or end a render pass.
 * It tracks exactly one selected target and whether a pass is open on it,
 * and exposes the named transitions of the deferred pipeline. Passes begin
 * lazily: selecting a target records nothing until a draw asks for an
 * active pass.
 */
type RenderSession struct {
	recorder PassRecorder

	main     SwapchainWithDepth
	lighting SwapchainNoDepth
	gbuffer  DeferredGBuffer

	current      RenderTarget
	passActive   bool
	pendingClear bool
}

func NewRenderSession(recorder PassRecorder, main SwapchainWithDepth, lighting SwapchainNoDepth, gbuffer DeferredGBuffer) *RenderSession {
	return &RenderSession{
		recorder: recorder,
		main:     main,
		lighting: lighting,
		gbuffer:  gbuffer,
		current:  main,
	}
}

// Reconfigure swaps the session's targets after a swapchain recreate. Illegal
// while a pass is open.
func (s *RenderSession) Reconfigure(main SwapchainWithDepth, lighting SwapchainNoDepth, gbuffer DeferredGBuffer) {
	core.Assert(!s.passActive, "cannot reconfigure targets while a pass is active")
	s.main = main
	s.lighting = lighting
	s.gbuffer = gbuffer
	s.current = main
}

func (s *RenderSession) PassActive() bool {
	return s.passActive
}

func (s *RenderSession) CurrentTarget() RenderTarget {
	return s.current
}

/**
 * RequestTarget selects the desired target. An open pass on a different
 * target is ended first; this method never begins one. Selecting the target
 * that is already current is a no-op and leaves an open pass open.
 */
func (s *RenderSession) RequestTarget(target RenderTarget) {
	if target == s.current {
		return
	}
	if s.passActive {
		s.recorder.EndPass()
		s.passActive = false
	}
	s.current = target
}

// RequestClear arms a one-shot clear. It applies to the next pass begin only,
// then reverts to loading existing contents.
func (s *RenderSession) RequestClear() {
	s.pendingClear = true
}

/**
 * EnsureRenderingActive opens a pass on the selected target if none is open
 * and returns the target's contract for pipeline selection. Idempotent:
 * a second call with no intervening target change records nothing.
 */
func (s *RenderSession) EnsureRenderingActive() (TargetContract, error) {
	if s.passActive {
		return s.current.Contract(), nil
	}

	clear := s.pendingClear
	s.pendingClear = false
	if err := s.recorder.BeginPass(s.current, clear); err != nil {
		return TargetContract{}, err
	}
	s.passActive = true
	return s.current.Contract(), nil
}

// SuspendRendering ends the open pass without changing the selected target.
// Required before transfer operations, which are illegal inside a pass.
func (s *RenderSession) SuspendRendering() {
	if s.passActive {
		s.recorder.EndPass()
		s.passActive = false
	}
}

/**
 * BeginDeferredPass selects the geometry buffer and opens its pass,
 * optionally clearing it. Returns the G-buffer contract for geometry
 * pipeline selection.
 */
func (s *RenderSession) BeginDeferredPass(clear bool) (TargetContract, error) {
	s.RequestTarget(s.gbuffer)
	if clear {
		s.pendingClear = true
	}
	return s.EnsureRenderingActive()
}

/**
 * EndDeferredGeometry closes the geometry pass, moves the G-buffer
 * attachments to a shader-readable layout and selects the depthless
 * swapchain target for the lighting draws. The lighting pass itself begins
 * lazily at the first lighting draw.
 */
func (s *RenderSession) EndDeferredGeometry() error {
	core.Assert(s.current == RenderTarget(s.gbuffer), "EndDeferredGeometry called outside a deferred pass")

	s.SuspendRendering()
	if err := s.recorder.TransitionToShaderRead(s.gbuffer); err != nil {
		return err
	}
	s.current = s.lighting
	return nil
}

// RestoreMainTarget reselects the main swapchain+depth target after the
// deferred sequence or an offscreen excursion.
func (s *RenderSession) RestoreMainTarget() {
	s.RequestTarget(s.main)
}
