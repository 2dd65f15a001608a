package vulkan

import (
	"testing"

	vk "github.com/goki/vulkan"
	"github.com/stretchr/testify/assert"
)

type recordedOp struct {
	op     string
	target string
	clear  bool
}

type mockRecorder struct {
	ops        []recordedOp
	passOpen   bool
	beginCount int
	endCount   int
}

func (m *mockRecorder) BeginPass(target RenderTarget, clear bool) error {
	if m.passOpen {
		panic("BeginPass recorded with a pass already open")
	}
	m.passOpen = true
	m.beginCount++
	m.ops = append(m.ops, recordedOp{op: "begin", target: target.targetName(), clear: clear})
	return nil
}

func (m *mockRecorder) EndPass() {
	if !m.passOpen {
		panic("EndPass recorded with no pass open")
	}
	m.passOpen = false
	m.endCount++
	m.ops = append(m.ops, recordedOp{op: "end"})
}

func (m *mockRecorder) TransitionToShaderRead(target RenderTarget) error {
	if m.passOpen {
		panic("transition recorded inside a pass")
	}
	m.ops = append(m.ops, recordedOp{op: "shader-read", target: target.targetName()})
	return nil
}

func testTargets() (SwapchainWithDepth, SwapchainNoDepth, DeferredGBuffer) {
	main := SwapchainWithDepth{ColorFormat: vk.FormatB8g8r8a8Unorm, DepthFormat: vk.FormatD32Sfloat}
	lighting := SwapchainNoDepth{ColorFormat: vk.FormatB8g8r8a8Unorm}
	gbuffer := DeferredGBuffer{
		ColorFormats: [GBufferCount]vk.Format{
			vk.FormatR8g8b8a8Unorm,
			vk.FormatR16g16b16a16Sfloat,
			vk.FormatR16g16b16a16Sfloat,
			vk.FormatR8g8b8a8Unorm,
			vk.FormatR8g8b8a8Unorm,
		},
		DepthFormat: vk.FormatD32Sfloat,
	}
	return main, lighting, gbuffer
}

func newTestSession() (*RenderSession, *mockRecorder) {
	recorder := &mockRecorder{}
	main, lighting, gbuffer := testTargets()
	return NewRenderSession(recorder, main, lighting, gbuffer), recorder
}

func TestEnsureRenderingActiveIsIdempotent(t *testing.T) {
	session, recorder := newTestSession()

	first, err := session.EnsureRenderingActive()
	assert.NoError(t, err)
	second, err := session.EnsureRenderingActive()
	assert.NoError(t, err)

	assert.Equal(t, first, second)
	assert.Equal(t, 1, recorder.beginCount)
	assert.Equal(t, 0, recorder.endCount)
}

func TestRequestTargetEndsOpenPass(t *testing.T) {
	session, recorder := newTestSession()

	_, err := session.EnsureRenderingActive()
	assert.NoError(t, err)

	session.RequestTarget(session.lighting)
	assert.False(t, session.PassActive())
	assert.Equal(t, 1, recorder.endCount)

	// Selecting never begins; only a draw does.
	assert.Equal(t, 1, recorder.beginCount)
}

func TestRequestSameTargetKeepsPassOpen(t *testing.T) {
	session, recorder := newTestSession()

	_, err := session.EnsureRenderingActive()
	assert.NoError(t, err)

	session.RequestTarget(session.main)
	assert.True(t, session.PassActive())
	assert.Equal(t, 0, recorder.endCount)
}

func TestClearIsOneShot(t *testing.T) {
	session, recorder := newTestSession()

	session.RequestClear()
	_, err := session.EnsureRenderingActive()
	assert.NoError(t, err)
	session.SuspendRendering()
	_, err = session.EnsureRenderingActive()
	assert.NoError(t, err)

	assert.True(t, recorder.ops[0].clear)
	// Second begin loads existing contents; the clear did not stick.
	assert.False(t, recorder.ops[2].clear)
}

func TestSuspendRenderingKeepsTarget(t *testing.T) {
	session, recorder := newTestSession()

	contract, err := session.EnsureRenderingActive()
	assert.NoError(t, err)
	session.SuspendRendering()
	assert.False(t, session.PassActive())

	// Suspend twice is harmless.
	session.SuspendRendering()
	assert.Equal(t, 1, recorder.endCount)

	resumed, err := session.EnsureRenderingActive()
	assert.NoError(t, err)
	assert.Equal(t, contract, resumed)
}

func TestDeferredSequence(t *testing.T) {
	session, recorder := newTestSession()

	contract, err := session.BeginDeferredPass(true)
	assert.NoError(t, err)
	assert.Equal(t, uint32(GBufferCount), contract.ColorCount)

	assert.NoError(t, session.EndDeferredGeometry())
	assert.False(t, session.PassActive())

	// Lighting draw begins the depthless swapchain pass lazily.
	lightingContract, err := session.EnsureRenderingActive()
	assert.NoError(t, err)
	assert.Equal(t, uint32(1), lightingContract.ColorCount)
	assert.Equal(t, vk.FormatUndefined, lightingContract.DepthFormat)

	session.RestoreMainTarget()
	_, err = session.EnsureRenderingActive()
	assert.NoError(t, err)

	expected := []recordedOp{
		{op: "begin", target: "gbuffer", clear: true},
		{op: "end"},
		{op: "shader-read", target: "gbuffer"},
		{op: "begin", target: "swapchain"},
		{op: "end"},
		{op: "begin", target: "swapchain+depth"},
	}
	assert.Equal(t, expected, recorder.ops)
}

func TestReconfigureSwapsTargets(t *testing.T) {
	session, _ := newTestSession()

	main, lighting, gbuffer := testTargets()
	main.ColorFormat = vk.FormatR8g8b8a8Unorm
	session.Reconfigure(main, lighting, gbuffer)

	contract, err := session.EnsureRenderingActive()
	assert.NoError(t, err)
	assert.Equal(t, vk.FormatR8g8b8a8Unorm, contract.ColorFormats[0])
}
