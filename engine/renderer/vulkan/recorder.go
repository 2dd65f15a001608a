package vulkan

/**
 * PassRecorder is the narrow surface the render session drives. The session
 * owns the state machine (which target, pass active or not, one-shot clear);
 * the recorder owns the command stream. Splitting the two keeps the protocol
 * verifiable without a device.
 */
type PassRecorder interface {
	// BeginPass records the layout transitions and pass begin for the
	// target. A clear begin must treat the attachments' prior contents as
	// undefined; the recorder enforces that coupling, the session only
	// decides whether to clear.
	BeginPass(target RenderTarget, clear bool) error

	// EndPass records the end of the currently open pass.
	EndPass()

	// TransitionToShaderRead moves the target's color attachments to a
	// shader-readable layout. Only legal with no pass open.
	TransitionToShaderRead(target RenderTarget) error
}
