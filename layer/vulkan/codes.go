package vulkan

import "fmt"

// Code is the stable numeric identifier carried by every diagnostic. Codes are grouped by
// hundreds, one group per category.
type Code int32

const (
	CodeNone Code = 0

	// object tracking
	CodeInvalidObject Code = 100
	CodeObjectInUse   Code = 101

	// memory
	CodeAlreadyBound           Code = 200
	CodeOffsetOutOfRange       Code = 201
	CodeSizeExceedsAllocation  Code = 202
	CodeMisalignedOffset       Code = 203
	CodeMemoryTypeMismatch     Code = 204
	CodeRequirementsNotQueried Code = 205
	CodeInvalidAliasing        Code = 206
	CodeReadBeforeWrite        Code = 207
	CodeMemoryNotBound         Code = 208
	CodeBoundMemoryFreed       Code = 209
	CodeMemoryNotHostVisible   Code = 210
	CodeMemoryAlreadyMapped    Code = 211
	CodeMemoryNotMapped        Code = 212
	CodeInvalidMapRange        Code = 213
	CodeInvalidFlushRange      Code = 214
	CodeMapGuardOverwritten    Code = 215
	CodeNotSparseResource      Code = 216
	CodeSparseBindOutOfRange   Code = 217
	CodeInvalidMemoryType      Code = 218
	CodeInvalidUsage           Code = 219

	// command buffer
	CodeAlreadyRecording               Code = 300
	CodeResetNotAllowed                Code = 301
	CodeNotRecording                   Code = 302
	CodeStillInsideRenderPass          Code = 303
	CodeQueryStillActive               Code = 304
	CodeCommandBufferNotExecutable     Code = 305
	CodeUsesInvalidatedObject          Code = 306
	CodeSimultaneousUseViolation       Code = 307
	CodeOneTimeSubmitViolation         Code = 308
	CodeQueueFamilyMismatch            Code = 309
	CodeWrongQueueCapability           Code = 310
	CodeWrongSubpassContents           Code = 311
	CodeNotInsideRenderPass            Code = 312
	CodeInsideRenderPass               Code = 313
	CodePrimaryOnly                    Code = 314
	CodeInvalidSecondaryCommandBuffer  Code = 315
	CodeInvalidInheritance             Code = 316
	CodeSecondarySimultaneousUseDemote Code = 317

	// draw time
	CodeNoPipelineBound               Code = 400
	CodeDynamicStateNotSet            Code = 401
	CodeDescriptorSetNotBound         Code = 402
	CodeIncompatibleLayout            Code = 403
	CodeDescriptorSetNotUpdated       Code = 404
	CodeIndexBufferNotBound           Code = 405
	CodeVertexBufferNotBound          Code = 406
	CodeSubpassIndexMismatch          Code = 407
	CodeDescriptorViewTypeMismatch    Code = 408
	CodeDescriptorSampleCountMismatch Code = 409
	CodeDynamicOffsetCount            Code = 410
	CodeInvalidPushConstantRange      Code = 411
	CodeDescriptorSetIndexOutOfRange  Code = 412

	// descriptors
	CodeDescriptorPoolExhausted     Code = 500
	CodeFreeNotAllowed              Code = 501
	CodeInvalidDescriptorBinding    Code = 502
	CodeDescriptorWriteTypeMismatch Code = 503
	CodeDescriptorWriteOutOfBounds  Code = 504

	// render pass
	CodeSelfReferentialExternal       Code = 600
	CodeBackwardDependency            Code = 601
	CodeInvalidSubpassIndex           Code = 602
	CodeMissingSubpassDependency      Code = 603
	CodeAttachmentNotPreserved        Code = 604
	CodeInvalidAttachmentIndex        Code = 605
	CodeInvalidPreserveAttachment     Code = 606
	CodeRenderPassIncompatible        Code = 607
	CodeClearValueCount               Code = 608
	CodeExtraClearValues              Code = 609
	CodeSubpassOutOfRange             Code = 610
	CodeFramebufferAttachmentCount    Code = 611
	CodeFramebufferAttachmentMismatch Code = 612
	CodeFramebufferUsage              Code = 613
	CodeFramebufferExtent             Code = 614
	CodeClearAttachmentsBeforeDraw    Code = 615
	CodeBarrierWithoutSelfDependency  Code = 616

	// shader
	CodeInvalidShaderModule          Code = 700
	CodeMissingEntrypoint            Code = 701
	CodeFeatureNotEnabled            Code = 702
	CodeUnknownCapability            Code = 703
	CodeSpecializationOutOfRange     Code = 704
	CodePushConstantNotInRange       Code = 705
	CodeMissingDescriptor            Code = 706
	CodeDescriptorNotAccessible      Code = 707
	CodeDescriptorTypeMismatch       Code = 708
	CodeDescriptorCountTooSmall      Code = 709
	CodeInputAttachmentMismatch      Code = 710
	CodeDuplicateVertexBinding       Code = 711
	CodeVertexAttributeNotConsumed   Code = 712
	CodeVertexInputNotProvided       Code = 713
	CodeVertexAttributeTypeMismatch  Code = 714
	CodeOutputNotConsumed            Code = 715
	CodeInputNotProduced             Code = 716
	CodeInterfaceTypeMismatch        Code = 717
	CodeInterfaceDecorationMismatch  Code = 718
	CodeFragmentOutputNotWritten     Code = 719
	CodeFragmentOutputNotConsumed    Code = 720
	CodeFragmentOutputTypeMismatch   Code = 721
	CodeMissingShaderStage           Code = 722
	CodeDuplicateShaderStage         Code = 723
	CodeVertexBindingNotFound        Code = 724
	CodeVertexAttributeNarrowed      Code = 725
	CodeWritableDescriptorNotAllowed Code = 726

	// queues and synchronization
	CodeSemaphoreNeverSignaled   Code = 800
	CodeSemaphoreAlreadySignaled Code = 801
	CodeFenceInUse               Code = 802
	CodeFenceSignaled            Code = 803
	CodeQueueForwardProgress     Code = 804
	CodeQueryNotAvailable        Code = 805
	CodeEventStageMismatch       Code = 806
	CodeInvalidQuery             Code = 807
	CodeQueueNotSparseCapable    Code = 808

	// swapchain
	CodeImageNotAcquired          Code = 900
	CodeTooManyImagesAcquired     Code = 901
	CodeSwapchainImageIndex       Code = 902
	CodeSwapchainImageNotBindable Code = 903
)

var codeCategories = [...]string{
	1: "object",
	2: "memory",
	3: "command_buffer",
	4: "draw_state",
	5: "descriptor",
	6: "render_pass",
	7: "shader",
	8: "queue",
	9: "swapchain",
}

// Category is the short tag delivered with every diagnostic of this code.
func (c Code) Category() string {
	group := int(c) / 100
	if group <= 0 || group >= len(codeCategories) {
		return "general"
	}
	return codeCategories[group]
}

func (c Code) String() string {
	return fmt.Sprintf("%s-%d", c.Category(), int32(c))
}
