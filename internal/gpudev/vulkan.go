//go:build !nogpu

package gpudev

// Register the Vulkan hal backend so Open(nil) can find it.
import _ "github.com/gogpu/wgpu/hal/vulkan"
