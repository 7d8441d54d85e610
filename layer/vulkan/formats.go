package vulkan

import (
	vk "github.com/goki/vulkan"
	"github.com/spaghettifunk/vkcheck/layer/spirv"
)

// formatInfo is what the pipeline and framebuffer checks need from a format.
type formatInfo struct {
	// bytes per texel
	size       uint32
	components uint32
	// class the shader sees when it reads the format
	fundamental spirv.FundamentalType
	// 64-bit components, which take two locations past two components
	wide    bool
	depth   bool
	stencil bool
}

const (
	fFloat = spirv.FundamentalFloat
	fSint  = spirv.FundamentalSint
	fUint  = spirv.FundamentalUint
)

var formatTable = map[vk.Format]formatInfo{
	vk.FormatR8Unorm: {1, 1, fFloat, false, false, false},
	vk.FormatR8Snorm: {1, 1, fFloat, false, false, false},
	vk.FormatR8Uint:  {1, 1, fUint, false, false, false},
	vk.FormatR8Sint:  {1, 1, fSint, false, false, false},
	vk.FormatR8Srgb:  {1, 1, fFloat, false, false, false},

	vk.FormatR8g8Unorm: {2, 2, fFloat, false, false, false},
	vk.FormatR8g8Snorm: {2, 2, fFloat, false, false, false},
	vk.FormatR8g8Uint:  {2, 2, fUint, false, false, false},
	vk.FormatR8g8Sint:  {2, 2, fSint, false, false, false},

	vk.FormatR8g8b8Unorm: {3, 3, fFloat, false, false, false},

	vk.FormatR8g8b8a8Unorm: {4, 4, fFloat, false, false, false},
	vk.FormatR8g8b8a8Snorm: {4, 4, fFloat, false, false, false},
	vk.FormatR8g8b8a8Uint:  {4, 4, fUint, false, false, false},
	vk.FormatR8g8b8a8Sint:  {4, 4, fSint, false, false, false},
	vk.FormatR8g8b8a8Srgb:  {4, 4, fFloat, false, false, false},
	vk.FormatB8g8r8a8Unorm: {4, 4, fFloat, false, false, false},
	vk.FormatB8g8r8a8Srgb:  {4, 4, fFloat, false, false, false},

	vk.FormatA2b10g10r10UnormPack32: {4, 4, fFloat, false, false, false},
	vk.FormatB10g11r11UfloatPack32:  {4, 3, fFloat, false, false, false},

	vk.FormatR16Unorm:           {2, 1, fFloat, false, false, false},
	vk.FormatR16Uint:            {2, 1, fUint, false, false, false},
	vk.FormatR16Sint:            {2, 1, fSint, false, false, false},
	vk.FormatR16Sfloat:          {2, 1, fFloat, false, false, false},
	vk.FormatR16g16Uint:         {4, 2, fUint, false, false, false},
	vk.FormatR16g16Sint:         {4, 2, fSint, false, false, false},
	vk.FormatR16g16Sfloat:       {4, 2, fFloat, false, false, false},
	vk.FormatR16g16b16a16Unorm:  {8, 4, fFloat, false, false, false},
	vk.FormatR16g16b16a16Uint:   {8, 4, fUint, false, false, false},
	vk.FormatR16g16b16a16Sint:   {8, 4, fSint, false, false, false},
	vk.FormatR16g16b16a16Sfloat: {8, 4, fFloat, false, false, false},

	vk.FormatR32Uint:            {4, 1, fUint, false, false, false},
	vk.FormatR32Sint:            {4, 1, fSint, false, false, false},
	vk.FormatR32Sfloat:          {4, 1, fFloat, false, false, false},
	vk.FormatR32g32Uint:         {8, 2, fUint, false, false, false},
	vk.FormatR32g32Sint:         {8, 2, fSint, false, false, false},
	vk.FormatR32g32Sfloat:       {8, 2, fFloat, false, false, false},
	vk.FormatR32g32b32Uint:      {12, 3, fUint, false, false, false},
	vk.FormatR32g32b32Sint:      {12, 3, fSint, false, false, false},
	vk.FormatR32g32b32Sfloat:    {12, 3, fFloat, false, false, false},
	vk.FormatR32g32b32a32Uint:   {16, 4, fUint, false, false, false},
	vk.FormatR32g32b32a32Sint:   {16, 4, fSint, false, false, false},
	vk.FormatR32g32b32a32Sfloat: {16, 4, fFloat, false, false, false},

	vk.FormatR64Uint:            {8, 1, fUint, true, false, false},
	vk.FormatR64Sint:            {8, 1, fSint, true, false, false},
	vk.FormatR64Sfloat:          {8, 1, fFloat, true, false, false},
	vk.FormatR64g64Sfloat:       {16, 2, fFloat, true, false, false},
	vk.FormatR64g64b64Sfloat:    {24, 3, fFloat, true, false, false},
	vk.FormatR64g64b64a64Sfloat: {32, 4, fFloat, true, false, false},

	vk.FormatD16Unorm:         {2, 1, fFloat, false, true, false},
	vk.FormatX8D24UnormPack32: {4, 1, fFloat, false, true, false},
	vk.FormatD32Sfloat:        {4, 1, fFloat, false, true, false},
	vk.FormatS8Uint:           {1, 1, fUint, false, false, true},
	vk.FormatD16UnormS8Uint:   {3, 2, fFloat, false, true, true},
	vk.FormatD24UnormS8Uint:   {4, 2, fFloat, false, true, true},
	vk.FormatD32SfloatS8Uint:  {5, 2, fFloat, false, true, true},
}

func lookupFormat(f vk.Format) (formatInfo, bool) {
	info, ok := formatTable[f]
	return info, ok
}

// formatSize falls back to 4 bytes for formats outside the table.
func formatSize(f vk.Format) uint32 {
	if info, ok := formatTable[f]; ok {
		return info.size
	}
	return 4
}

// formatFundamental is 0 for unknown formats, which the interface checks skip.
func formatFundamental(f vk.Format) spirv.FundamentalType {
	return formatTable[f].fundamental
}

func isDepthOrStencil(f vk.Format) bool {
	info := formatTable[f]
	return info.depth || info.stencil
}
